package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/docket-io/docket/internal/bytesize"
	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/pkg/config"
	"github.com/docket-io/docket/pkg/docstore"
	"github.com/spf13/cobra"
)

var (
	lsOutput    string
	lsRecursive bool
	lsFolders   bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [folder]",
	Short: "List records in the store",
	Long: `List the records in a folder, or every folder in the store.

The store is opened directly, so the server must not be running: ls takes
the store lock.

Examples:
  # List records in the root folder
  docket ls

  # List records in a folder and all folders below it
  docket ls legal/contracts --recursive

  # List the folder tree instead of records
  docket ls --folders

  # List as JSON
  docket ls -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().StringVarP(&lsOutput, "output", "o", "table", "Output format (table|json|yaml)")
	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "Include records in subfolders")
	lsCmd.Flags().BoolVar(&lsFolders, "folders", false, "List folders instead of records")
}

// recordList renders records as a table.
type recordList []*docstore.Record

// Headers implements TableRenderer.
func (rl recordList) Headers() []string {
	return []string{"ID", "FILENAME", "FOLDER", "SIZE", "STATUS", "CREATED"}
}

// Rows implements TableRenderer.
func (rl recordList) Rows() [][]string {
	rows := make([][]string, 0, len(rl))
	for _, rec := range rl {
		folder := rec.Folder
		if folder == "" {
			folder = "/"
		}
		rows = append(rows, []string{
			rec.ID,
			rec.Filename,
			folder,
			bytesize.ByteSize(rec.Size).String(),
			string(rec.Status),
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

// folderList renders folder paths as a table.
type folderList []string

// Headers implements TableRenderer.
func (fl folderList) Headers() []string {
	return []string{"FOLDER"}
}

// Rows implements TableRenderer.
func (fl folderList) Rows() [][]string {
	rows := make([][]string, 0, len(fl))
	for _, f := range fl {
		rows = append(rows, []string{f})
	}
	return rows
}

func runLs(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(lsOutput)
	if err != nil {
		return err
	}

	folder := ""
	if len(args) > 0 {
		folder = args[0]
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	store, err := docstore.Open(ctx, config.StoreOptions(cfg, nil))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if lsFolders {
		folders, err := store.ListFolders(ctx)
		if err != nil {
			return fmt.Errorf("listing folders: %w", err)
		}
		return printOutput(format, folders, len(folders) == 0, "No folders found.", folderList(folders))
	}

	ids, err := store.List(ctx, folder, lsRecursive)
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}

	records := make([]*docstore.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("loading record %s: %w", id, err)
		}
		records = append(records, rec)
	}

	return printOutput(format, records, len(records) == 0, "No records found.", recordList(records))
}

// printOutput renders data in the requested format, falling back to the
// table renderer with an empty-set message.
func printOutput(format output.Format, data any, isEmpty bool, emptyMsg string, table output.TableRenderer) error {
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, data)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, data)
	default:
		if isEmpty {
			fmt.Println(emptyMsg)
			return nil
		}
		return output.PrintTable(os.Stdout, table)
	}
}
