package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/org/deaddrop/internal/envelope"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "dropctl",
	Short: "deaddrop CLI",
	Long: `A CLI for the deaddrop dead man's switch.

Payloads are encrypted locally: the passphrase never leaves this machine and
the server only ever receives the sealed envelope and its digest.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
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

	rootCmd.AddCommand(encryptCmd())
	rootCmd.AddCommand(decryptCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(checkinCmd())
	rootCmd.AddCommand(receiptCmd())
	rootCmd.AddCommand(sweepCmd())
}

// readPassphrase prompts without echo, with confirmation when sealing.
func readPassphrase(confirm bool) (string, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}

// --- encrypt / decrypt (local only) ---

func encryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal a payload into an envelope locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			inFile, _ := cmd.Flags().GetString("in")
			text, _ := cmd.Flags().GetString("text")
			outFile, _ := cmd.Flags().GetString("out")
			mimeType, _ := cmd.Flags().GetString("mime")

			var payload []byte
			meta := envelope.Metadata{}
			switch {
			case text != "":
				payload = []byte(text)
				meta.IsText = true
			case inFile != "":
				data, err := os.ReadFile(inFile)
				if err != nil {
					return err
				}
				payload = data
				meta.Filename = inFile
				meta.MimeType = mimeType
			default:
				return fmt.Errorf("either --in or --text is required")
			}

			passphrase, err := readPassphrase(true)
			if err != nil {
				return err
			}

			serialized, digest, err := envelope.Encrypt(payload, passphrase, meta)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outFile, serialized, 0600); err != nil {
				return err
			}

			printResult(map[string]any{
				"envelope":     outFile,
				"payload_hash": digest,
			})
			return nil
		},
	}
	cmd.Flags().String("in", "", "File to encrypt")
	cmd.Flags().String("text", "", "Text payload to encrypt")
	cmd.Flags().String("out", "envelope.json", "Output envelope file")
	cmd.Flags().String("mime", "application/octet-stream", "MIME type for file payloads")
	return cmd
}

func decryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Open an envelope locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			inFile, _ := cmd.Flags().GetString("in")
			outFile, _ := cmd.Flags().GetString("out")

			serialized, err := os.ReadFile(inFile)
			if err != nil {
				return err
			}
			passphrase, err := readPassphrase(false)
			if err != nil {
				return err
			}

			payload, err := envelope.Decrypt(serialized, passphrase)
			if err != nil {
				printError(err.Error())
				os.Exit(1)
			}

			if payload.IsText {
				fmt.Println(payload.Text)
				return nil
			}
			if outFile == "" {
				outFile = payload.Filename
			}
			if err := os.WriteFile(outFile, payload.Data, 0600); err != nil {
				return err
			}
			printResult(map[string]any{
				"file": outFile,
				"mime": payload.MimeType,
			})
			return nil
		},
	}
	cmd.Flags().String("in", "envelope.json", "Envelope file to decrypt")
	cmd.Flags().String("out", "", "Output file (binary payloads)")
	return cmd
}

// --- server operations ---

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an envelope as a new drop",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("envelope")
			owner, _ := cmd.Flags().GetString("owner")
			recipient, _ := cmd.Flags().GetString("recipient")
			hint, _ := cmd.Flags().GetString("hint")
			interval, _ := cmd.Flags().GetInt("interval")
			grace, _ := cmd.Flags().GetInt("grace")

			serialized, err := os.ReadFile(envFile)
			if err != nil {
				return err
			}

			client := newClient()
			result, err := client.post("/v1/create", map[string]any{
				"owner_email":           owner,
				"recipient_email":       recipient,
				"passphrase_hint":       hint,
				"checkin_interval_days": interval,
				"grace_days":            grace,
				"encrypted_payload":     string(serialized),
				"payload_hash":          envelope.Digest(serialized),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("envelope", "envelope.json", "Sealed envelope file")
	cmd.Flags().String("owner", "", "Owner email address")
	cmd.Flags().String("recipient", "", "Recipient email address")
	cmd.Flags().String("hint", "", "Optional passphrase hint for the recipient")
	cmd.Flags().Int("interval", 30, "Check-in interval in days")
	cmd.Flags().Int("grace", 7, "Grace period in days")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Activate a drop with its verify token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/verify", map[string]any{"token": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func checkinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <token>",
		Short: "Renew the release deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/checkin", map[string]any{"token": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <id>",
		Short: "Show the public receipt for a drop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/receipt/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Trigger a sweep pass (operator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/sweep", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}
