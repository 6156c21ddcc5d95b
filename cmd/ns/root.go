package ns

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// NamespaceCommands represents the namespace command group
	NamespaceCommands = &cobra.Command{
		Use:   "ns",
		Short: "Manage collections and indexes",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			rpcStore, err = util.NewStore(cmd)
			return err
		},
	}

	createTemp bool
	createCmd  = &cobra.Command{
		Use:   "create [name]",
		Short: "Creates a collection",
		Long:  "Creates a collection. Temporary collections and their indexes are dropped when a new primary is elected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.CreateNamespace(args[0], map[string]any{"temp": createTemp}); err != nil {
				return err
			}
			fmt.Println("created successfully")
			return nil
		},
	}

	ensureIndexCmd = &cobra.Command{
		Use:   "ensure-index [collection] [keySpec]",
		Short: "Creates an index if it does not exist",
		Long:  "Creates an index on a collection. The key spec has the form field:1,other:-1.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := catalog.ParseKeySpec(args[1])
			if err != nil {
				return err
			}
			if err := rpcStore.EnsureIndex(args[0], ks); err != nil {
				return err
			}
			fmt.Printf("index %s ensured\n", ks.Name())
			return nil
		},
	}

	dropCmd = &cobra.Command{
		Use:   "drop [name]",
		Short: "Drops a collection (with its indexes) or a single index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Drop(args[0]); err != nil {
				return err
			}
			fmt.Println("dropped successfully")
			return nil
		},
	}

	listKind, listPrefix, listOwner, listTemp string
	listCmd                                   = &cobra.Command{
		Use:   "list",
		Short: "Lists namespaces matching a pattern",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := listPattern()
			if err != nil {
				return err
			}
			nss, err := rpcStore.ListNamespaces(p)
			if err != nil {
				return err
			}
			for _, ns := range nss {
				fmt.Println(ns.String())
			}
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupRPCClientFlags(NamespaceCommands, 100)

	createCmd.Flags().BoolVar(&createTemp, "temp", false, util.WrapString("Create a temporary collection"))

	listCmd.Flags().StringVar(&listKind, "kind", "", util.WrapString("Only list namespaces of this kind (collection, index)"))
	listCmd.Flags().StringVar(&listPrefix, "prefix", "", util.WrapString("Only list namespaces whose name starts with this prefix"))
	listCmd.Flags().StringVar(&listOwner, "owner", "", util.WrapString("Only list the indexes of this collection"))
	listCmd.Flags().StringVar(&listTemp, "temp", "", util.WrapString("Only list temporary (true) or permanent (false) namespaces"))

	NamespaceCommands.AddCommand(createCmd)
	NamespaceCommands.AddCommand(ensureIndexCmd)
	NamespaceCommands.AddCommand(dropCmd)
	NamespaceCommands.AddCommand(listCmd)
}

func listPattern() (catalog.Pattern, error) {
	p := catalog.Pattern{NamePrefix: listPrefix, Owner: listOwner}
	if listKind != "" {
		k, err := catalog.ParseKind(listKind)
		if err != nil {
			return p, err
		}
		p = p.WithKind(k)
	}
	if listTemp != "" {
		temp, err := catalog.ParseTemporary(util.ParseJSONValue(listTemp))
		if err != nil {
			return p, err
		}
		p = p.WithTemporary(temp)
	}
	return p, nil
}
