package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "brokerctl",
	Short: "CredBroker operator CLI",
	Long:  "A CLI for inspecting a running credential broker over its diagnostics API.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(clientsCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(auditCmd())
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show broker health and database lock state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/health")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func settingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the active policy flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/settings")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func clientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List protocol clients seen since start",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/clients")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if clients, ok := result["clients"].([]any); ok {
				for _, c := range clients {
					fmt.Println(c)
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List client key associations of the active database",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/keys")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if keys, ok := result["keys"].([]any); ok {
				for _, k := range keys {
					if key, ok := k.(map[string]any); ok {
						if created, ok := key["created_at"].(string); ok {
							fmt.Printf("%s\t%s\n", key["label"], created)
							continue
						}
						fmt.Println(key["label"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.AddCommand(keysRevokeCmd())
	return cmd
}

func keysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <label>",
		Short: "Revoke a client key association",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.delete("/v1/sys/keys/" + url.PathEscape(args[0]))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock the active database",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/sys/lock")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the active database",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/sys/unlock")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit-log",
		Short: "Show recent authorization decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			clientID, _ := cmd.Flags().GetString("client")
			host, _ := cmd.Flags().GetString("host")

			path := "/v1/sys/audit-log?limit=" + strconv.Itoa(limit) +
				"&offset=" + strconv.Itoa(offset)
			if clientID != "" {
				path += "&client=" + clientID
			}
			if host != "" {
				path += "&host=" + host
			}

			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if entries, ok := result["entries"].([]any); ok {
				for _, e := range entries {
					if entry, ok := e.(map[string]any); ok {
						fmt.Printf("%v\t%v\t%v\t%v\t%v\n",
							entry["timestamp"], entry["client_id"], entry["action"],
							entry["host"], entry["decision"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum entries to return")
	cmd.Flags().Int("offset", 0, "Entries to skip")
	cmd.Flags().String("client", "", "Filter by client ID")
	cmd.Flags().String("host", "", "Filter by host")
	return cmd
}
