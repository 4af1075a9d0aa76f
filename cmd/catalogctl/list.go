package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalog/internal/web"
)

var listFlags struct {
	entity   string
	filters  []string
	sorts    []string
	page     int
	pageSize int
	sel      string
	count    string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print one page of an entity as JSON",
	Example: `  catalogctl list --entity prompts --filter tag_id:in:a,b --sort title:asc
  catalogctl list --entity models --filter context_window:gte:100000 --page-size 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		q := url.Values{
			"filter":   listFlags.filters,
			"sort":     listFlags.sorts,
			"page":     {strconv.Itoa(listFlags.page)},
			"pageSize": {strconv.Itoa(listFlags.pageSize)},
		}
		if listFlags.sel != "" {
			q.Set("select", listFlags.sel)
		}
		if listFlags.count != "" {
			q.Set("count", listFlags.count)
		}

		params, err := web.ListParams(a.service.Registry(), listFlags.entity, q)
		if err != nil {
			return err
		}
		result, err := a.service.GetList(cmd.Context(), params)
		if err != nil {
			return fmt.Errorf("list %s: %w", listFlags.entity, err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	f := listCmd.Flags()
	f.StringVarP(&listFlags.entity, "entity", "e", "", "entity to list (required)")
	f.StringArrayVarP(&listFlags.filters, "filter", "f", nil, "filter as field:op:value (repeatable)")
	f.StringArrayVarP(&listFlags.sorts, "sort", "s", nil, "sort as field:asc|desc (repeatable)")
	f.IntVar(&listFlags.page, "page", 1, "page number, starting at 1")
	f.IntVar(&listFlags.pageSize, "page-size", 25, "rows per page")
	f.StringVar(&listFlags.sel, "select", "", "select expression, e.g. id,title,categories(name)")
	f.StringVar(&listFlags.count, "count", "", "count mode: exact, estimated or planned")
	_ = listCmd.MarkFlagRequired("entity")
}
