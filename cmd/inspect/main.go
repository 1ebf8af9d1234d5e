// Command inspect dumps the contents of a relay database for debugging.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"chatrelay/pkg/store"
)

func main() {
	var (
		path string
		conv string
	)
	flag.StringVar(&path, "db", "", "pebble db path")
	flag.StringVar(&conv, "conversation", "", "limit output to one conversation key")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}

	st, err := store.OpenPebble(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if conv != "" {
		msgs, err := st.FindByConversation(conv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lookup failed: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(msgs)
		return
	}

	keys, err := st.ListConversationKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		msgs, err := st.FindByConversation(k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lookup %s failed: %v\n", k, err)
			continue
		}
		fmt.Printf("conversation %s (%d messages)\n", k, len(msgs))
		_ = enc.Encode(msgs)
	}
}
