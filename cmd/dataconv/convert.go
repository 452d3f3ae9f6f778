package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-dataconv"
	"github.com/goliatone/go-dataconv/pkg/dispatch"
)

type convertFlags struct {
	srcType  string
	input    string
	template string
	name     string
}

func newConvertCmd(global *globalFlags) *cobra.Command {
	flags := &convertFlags{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert one document and print the reply",
		Long: `Convert reads a source document and renders it with either a template
file (--template) or a stored template (--name) resolved under the configured
template root. Without either flag the parsed document is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConvert(cmd, global, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.srcType, "type", "t", "", "source format (csv, json, xml, yaml)")
	cmd.Flags().StringVarP(&flags.input, "input", "i", "-", "source document, - for stdin")
	cmd.Flags().StringVar(&flags.template, "template", "", "inline template file")
	cmd.Flags().StringVar(&flags.name, "name", "", "stored template name")
	_ = cmd.MarkFlagRequired("type")
	cmd.MarkFlagsMutuallyExclusive("template", "name")
	return cmd
}

func runConvert(cmd *cobra.Command, global *globalFlags, flags *convertFlags) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	d, err := dataconv.New(cfg, dataconv.WithLogger(logger))
	if err != nil {
		return err
	}

	src, err := readInput(cmd.InOrStdin(), flags.input)
	if err != nil {
		return err
	}

	var reply dispatch.Reply
	switch {
	case flags.name != "":
		reply, _ = d.Dispatch(cmd.Context(), dispatch.Message{
			OperationKind: dispatch.OpConvertNamed,
			SrcDataType:   flags.srcType,
			SrcData:       string(src),
			TemplateName:  flags.name,
		})
	default:
		var tpl []byte
		if flags.template != "" {
			if tpl, err = os.ReadFile(flags.template); err != nil {
				return fmt.Errorf("read template: %w", err)
			}
		}
		reply, _ = dataconv.Convert(cmd.Context(), d, flags.srcType, src, tpl)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(reply); err != nil {
		return err
	}
	if !reply.OK() {
		return errors.New("conversion failed")
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return b, nil
}
