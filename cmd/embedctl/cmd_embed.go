package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type embedRequestBody struct {
	Texts []string `json:"texts"`
}

type embedResponseBody struct {
	Embeddings  [][]float32 `json:"embeddings"`
	Performance struct {
		CacheHits   int   `json:"cache_hits"`
		CacheMisses int   `json:"cache_misses"`
		BatchesSent int   `json:"batches_sent"`
		ElapsedMS   int64 `json:"elapsed_ms"`
	} `json:"performance"`
}

func newEmbedCmd(baseURL *string) *cobra.Command {
	var texts []string

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Submit an ad-hoc /embed request and print vector lengths",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(texts) == 0 {
				return fmt.Errorf("at least one --text is required")
			}
			var resp embedResponseBody
			req := embedRequestBody{Texts: texts}
			if err := newAPIClient(*baseURL).post(cmd.Context(), "/embed", req, &resp); err != nil {
				return err
			}
			fmt.Printf("hits=%d misses=%d batches=%d elapsed=%dms\n",
				resp.Performance.CacheHits, resp.Performance.CacheMisses, resp.Performance.BatchesSent, resp.Performance.ElapsedMS)
			for i, v := range resp.Embeddings {
				fmt.Printf("  [%d] dim=%d\n", i, len(v))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&texts, "text", nil, "text to embed (repeatable)")
	return cmd
}
