package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/echelonflow/echelon/pkg/cmd"
	"github.com/echelonflow/echelon/pkg/log"
	"github.com/echelonflow/echelon/pkg/store"
	cli "github.com/urfave/cli/v3"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow template files",
		ArgsUsage: "FILE [FILE...]",
		Flags:     logFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			paths := command.Args().Slice()
			if len(paths) == 0 {
				return errors.New("at least one template file is required")
			}

			// Registering into a scratch catalog runs the full structural
			// and graph validation, not just the schema check.
			catalog := store.NewMemoryTemplateRegistry()

			for _, path := range paths {
				template, err := cmd.LoadTemplateFile(path)
				if err != nil {
					return err
				}

				if _, err := catalog.Register(ctx, template); err != nil {
					return fmt.Errorf("template file '%s': %w", path, err)
				}

				fmt.Printf("%s: ok (%s, %d tasks)\n", path, template.ID, len(template.Tasks))
			}

			return nil
		},
	}
}
