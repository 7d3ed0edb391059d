// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/linkage/internal/settings"
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage stored models",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored models",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer closeLogged(store, "model store")

				list, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tCREATED\tLINK TYPE\tCOLUMNS\tλ\tWARNINGS")
				for _, m := range list {
					s := settings.Complete(m.Settings)
					lambda := "-"
					if s.ProportionOfMatches != nil {
						lambda = fmt.Sprintf("%.4g", *s.ProportionOfMatches)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n",
						m.Name, m.CreatedAt.Format(time.RFC3339), s.LinkType, len(s.Comparisons), lambda, len(m.Warnings))
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "show NAME",
			Short: "Print a stored model's settings as YAML",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer closeLogged(store, "model store")

				m, err := store.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := settings.Marshal(m.Settings, settings.FormatYAML)
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete a stored model",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer closeLogged(store, "model store")
				return store.Delete(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}
