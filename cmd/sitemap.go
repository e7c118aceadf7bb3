package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newSitemapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sitemap <domain>",
		Short: "Print the URLs resolved from one domain's sitemap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			targets := appInstance.Targets()
			domain, ok := targets.Lookup(args[0])
			if !ok {
				keys := make([]string, 0, len(targets))
				for k := range targets {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				return fmt.Errorf("unknown domain %q (configured: %s)", args[0], strings.Join(keys, ", "))
			}
			out := cmd.OutOrStdout()
			for _, u := range appInstance.Resolver().Resolve(cmd.Context(), domain) {
				fmt.Fprintln(out, u)
			}
			return nil
		},
	}
}
