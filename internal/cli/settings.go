package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/Paintersrp/kioskd/internal/settings"
)

func newSettingsCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or edit the persisted station settings",
	}
	cmd.AddCommand(newSettingsGetCmd(ctx))
	cmd.AddCommand(newSettingsSetCmd(ctx))
	cmd.AddCommand(newSettingsUnsetCmd(ctx))
	return cmd
}

func newSettingsGetCmd(ctx *context) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get [KEY]",
		Short: "Print all settings or the value of one key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			data, err := client.Settings(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := settings.Parse(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				value, ok := doc.Value(args[0])
				if !ok {
					return fmt.Errorf("setting %q is not set", args[0])
				}
				return writeSettingValue(out, value)
			}
			if raw {
				fmt.Fprintln(out, gjson.GetBytes(doc.Bytes(), "@pretty").Raw)
				return nil
			}
			return writeSettingsTable(out, doc)
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "print the whole document as JSON")
	return cmd
}

func newSettingsSetCmd(ctx *context) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a key; VALUE is stored as JSON when it parses as JSON, otherwise as a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editSettings(cmd, ctx, local, func(doc settings.Document) (settings.Document, error) {
				key, value := args[0], args[1]
				if gjson.Valid(value) {
					return doc.SetRaw(key, []byte(value))
				}
				return doc.Set(key, value)
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "edit the settings file directly instead of going through the daemon")
	return cmd
}

func newSettingsUnsetCmd(ctx *context) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editSettings(cmd, ctx, local, func(doc settings.Document) (settings.Document, error) {
				return doc.Delete(args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "edit the settings file directly instead of going through the daemon")
	return cmd
}

func editSettings(cmd *cobra.Command, ctx *context, local bool, edit func(settings.Document) (settings.Document, error)) error {
	if local {
		cfg, err := ctx.config()
		if err != nil {
			return err
		}
		store := settings.NewStore(settings.DefaultPath(cfg.DataDir), nil)
		saved, err := store.Update(edit)
		if err != nil {
			return err
		}
		return writeSettingsTable(cmd.OutOrStdout(), saved)
	}

	client, err := ctx.client()
	if err != nil {
		return err
	}
	data, err := client.Settings(cmd.Context())
	if err != nil {
		return err
	}
	doc, err := settings.Parse(data)
	if err != nil {
		return err
	}
	next, err := edit(doc)
	if err != nil {
		return err
	}
	saved, err := client.SaveSettings(cmd.Context(), next.Bytes())
	if err != nil {
		return err
	}
	savedDoc, err := settings.Parse(saved)
	if err != nil {
		return err
	}
	return writeSettingsTable(cmd.OutOrStdout(), savedDoc)
}

func writeSettingsTable(out io.Writer, doc settings.Document) error {
	values := doc.Map()
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE")
	for _, key := range keys {
		encoded, err := json.Marshal(values[key])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", key, encoded)
	}
	return w.Flush()
}

func writeSettingValue(out io.Writer, value any) error {
	if s, ok := value.(string); ok {
		_, err := fmt.Fprintln(out, s)
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", encoded)
	return err
}
