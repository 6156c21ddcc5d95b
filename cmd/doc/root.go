package doc

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// DocumentCommands represents the document command group
	DocumentCommands = &cobra.Command{
		Use:   "doc",
		Short: "Insert, remove and query documents",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			rpcStore, err = util.NewStore(cmd)
			return err
		},
	}

	insertCmd = &cobra.Command{
		Use:   "insert [collection] [document]",
		Short: "Inserts a JSON document",
		Long:  "Inserts a JSON document, creating the collection if needed. A document without _id gets a generated one.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := util.ParseJSONObject(args[1])
			if err != nil {
				return err
			}
			id, err := rpcStore.Insert(args[0], doc)
			if err != nil {
				return err
			}
			fmt.Printf("inserted _id=%v\n", id)
			return nil
		},
	}

	removeCmd = &cobra.Command{
		Use:   "remove [collection] [id]",
		Short: "Removes the document with the given _id",
		Long:  "Removes the document with the given _id. The id is parsed as JSON, so 3 is a number and '\"3\"' a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Remove(args[0], util.ParseJSONValue(args[1])); err != nil {
				return err
			}
			fmt.Println("removed successfully")
			return nil
		},
	}

	findFilter, findProjection, findSort, findHint string
	findExplain                                    bool
	findCmd                                        = &cobra.Command{
		Use:   "find [collection]",
		Short: "Queries a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildQuery(args[0])
			if err != nil {
				return err
			}
			docs, explain, err := rpcStore.Find(q)
			if err != nil {
				return err
			}
			if findExplain {
				return util.PrintJSON(map[string]any{"docs": docs, "explain": explain})
			}
			return util.PrintJSON(docs)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupRPCClientFlags(DocumentCommands, 100)

	findCmd.Flags().StringVar(&findFilter, "filter", "", util.WrapString(`JSON filter, e.g. {"x": {"$gte": 2}}`))
	findCmd.Flags().StringVar(&findProjection, "projection", "", util.WrapString(`JSON projection, e.g. {"_id": 1}`))
	findCmd.Flags().StringVar(&findSort, "sort", "", util.WrapString("Sort key spec, e.g. x:-1,_id:1"))
	findCmd.Flags().StringVar(&findHint, "hint", "", util.WrapString("Name of the index to use, e.g. x_-1"))
	findCmd.Flags().BoolVar(&findExplain, "explain", false, util.WrapString("Print how the query was executed"))

	DocumentCommands.AddCommand(insertCmd)
	DocumentCommands.AddCommand(removeCmd)
	DocumentCommands.AddCommand(findCmd)
}

func buildQuery(collection string) (query.Query, error) {
	q := query.Query{Collection: collection, Hint: findHint}
	var err error
	if findFilter != "" {
		if q.Filter, err = util.ParseJSONObject(findFilter); err != nil {
			return q, err
		}
	}
	if findProjection != "" {
		if q.Projection, err = util.ParseJSONObject(findProjection); err != nil {
			return q, err
		}
	}
	if findSort != "" {
		if q.Sort, err = catalog.ParseKeySpec(findSort); err != nil {
			return q, err
		}
	}
	return q, nil
}
