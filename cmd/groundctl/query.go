package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/governor"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		explicit []string
		concept  string
		depth    int
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a grounded retrieval query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			req := domain.QueryRequest{
				Text:             &text,
				Vertical:         a.vertical,
				ExplicitTerms:    explicit,
				GraphID:          a.graph,
				ConceptContextID: concept,
				Limit:            domain.FlexInt(a.limit),
				Depth:            domain.FlexInt(depth),
			}
			return a.withEngine(cmd, func(gov *governor.Governor) error {
				return gov.Query(cmd.Context(), a.call(), req,
					printJSON[*domain.Envelope[domain.QueryData]](cmd.OutOrStdout()))
			})
		},
	}
	cmd.Flags().StringSliceVar(&explicit, "term", nil, "Explicit search term (repeatable)")
	cmd.Flags().StringVar(&concept, "concept", "", "Concept id to expand from")
	cmd.Flags().IntVar(&depth, "depth", 0, "Relationship depth (clamped to 2)")
	return cmd
}

func newEntitiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "entities <name>...",
		Short: "List evidence mentioning the named entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.EntityRequest{
				EntityNames: args,
				Vertical:    a.vertical,
				GraphID:     a.graph,
				Limit:       domain.FlexInt(a.limit),
			}
			return a.withEngine(cmd, func(gov *governor.Governor) error {
				return gov.EntityEvidence(cmd.Context(), a.call(), req,
					printJSON[*domain.Envelope[domain.QueryData]](cmd.OutOrStdout()))
			})
		},
	}
}

func newFacetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "facets <facet>",
		Short: "List the distinct values of a facet (vertical, source, entity, concept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.FacetRequest{
				GraphID: a.graph,
				Facet:   args[0],
				Limit:   domain.FlexInt(a.limit),
			}
			return a.withEngine(cmd, func(gov *governor.Governor) error {
				return gov.Facets(cmd.Context(), a.call(), req,
					printJSON[*domain.Envelope[domain.FacetData]](cmd.OutOrStdout()))
			})
		},
	}
}
