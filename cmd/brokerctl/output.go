package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
)

var (
	outputFormat string
	outputField  string
)

func printResult(result map[string]any) {
	switch outputFormat {
	case "json":
		printJSON(result)
	case "raw":
		printRaw(result)
	default:
		printTable(result)
	}
}

func printJSON(result map[string]any) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		printError(err.Error())
		return
	}
	fmt.Println(string(data))
}

func printRaw(result map[string]any) {
	if outputField != "" {
		if v, ok := result[outputField]; ok {
			fmt.Println(v)
			return
		}
		printError("field not found: " + outputField)
		return
	}
	for _, k := range sortedKeys(result) {
		fmt.Printf("%s=%v\n", k, result[k])
	}
}

func printTable(result map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Key\tValue")
	fmt.Fprintln(w, "---\t-----")
	for _, k := range sortedKeys(result) {
		fmt.Fprintf(w, "%s\t%v\n", k, formatValue(result[k]))
	}
	w.Flush()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []any, map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printError(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(1)
}
