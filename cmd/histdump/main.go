// histdump prints the persisted chat history of any backend as a table.
// Run it against a stopped broker; the badger backend takes an exclusive
// directory lock.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"hybridchat/domain"
	"hybridchat/repositories"
)

const maxContentDisplay = 60

func main() {
	backend := flag.String("backend", repositories.BackendFile, "store backend: file, sqlite or badger")
	filePath := flag.String("file", "data/history.json", "path of the JSON history file")
	sqlitePath := flag.String("sqlite", "data/chat.db", "path of the SQLite database")
	mediaDir := flag.String("media", "data/media", "directory of media blobs")
	badgerPath := flag.String("badger", "data/badger", "badger database directory")
	flag.Parse()

	quiet := logs.GetLoggerFromString("error")
	store, err := repositories.Open(repositories.Options{
		Backend:    *backend,
		FilePath:   *filePath,
		SQLitePath: *sqlitePath,
		MediaDir:   *mediaDir,
		BadgerPath: *badgerPath,
	}, quiet)
	if err != nil {
		log.Fatal("Error while opening store: ", err)
	}
	defer store.Close()

	messages, err := store.GetAllMessages()
	if err != nil {
		log.Fatal("Error while reading history: ", err)
	}

	header := fmt.Sprintf(" %s backend, %d messages ", *backend, len(messages))
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(header))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Type", "Sender", "Time", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, msg := range messages {
		table.Append([]string{
			shortID(msg.ID),
			string(msg.Type),
			msg.SenderID,
			time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05"),
			displayContent(msg),
		})
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// displayContent keeps the table readable: media payloads are shown by size,
// text is truncated.
func displayContent(msg domain.Message) string {
	if msg.Type.IsMedia() {
		return fmt.Sprintf("<%s payload, %d bytes>", msg.Type, len(msg.Content))
	}
	content := msg.Content
	if len(content) > maxContentDisplay {
		content = content[:maxContentDisplay] + "..."
	}
	return content
}
