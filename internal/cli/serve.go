// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bodaay/hfxet/internal/statusws"
	"github.com/bodaay/hfxet/pkg/hfxet"
)

// newServeCmd starts one snapshot download and streams its progress over a
// WebSocket.
func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		addr          string
		port          int
		repo          string
		revision      string
		repoType      string
		localDir      string
		maxConcurrent int
		dedup         bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Download a snapshot while streaming progress over a WebSocket",
		Long: `Start an HTTP server that streams a single snapshot download's
progress to any number of connected WebSocket clients at /ws.

Example:
  hfxet serve --repo bert-base-uncased --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required")
			}
			token := strings.TrimSpace(ro.Token)
			if token == "" {
				token = strings.TrimSpace(os.Getenv("HF_TOKEN"))
			}

			log := logrus.New().WithField("component", "serve")
			hub := statusws.NewHub(log)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			go hub.Run(ctx.Done())

			mux := http.NewServeMux()
			mux.HandleFunc("/ws", hub.ServeHTTP)
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			srv := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", addr, port),
				Handler:      mux,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
				defer c()
				srv.Shutdown(shutdownCtx)
			}()

			client, err := hfxet.NewClient(hfxet.Config{
				Token:         token,
				MaxConcurrent: maxConcurrent,
				EnableDedup:   dedup,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			job := hfxet.Job{Repo: repo, Revision: revision, LocalDir: localDir}
			if strings.EqualFold(repoType, "dataset") {
				job.Kind = hfxet.RepoDataset
			}

			go func() {
				log.Infof("listening on http://%s (ws at /ws)", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.WithError(err).Error("server stopped")
				}
			}()

			_, err = client.DownloadSnapshot(ctx, job, hub.Publish, nil)
			cancel()
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on")
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "repository id (owner/name)")
	cmd.Flags().StringVarP(&revision, "revision", "b", "main", "revision/branch")
	cmd.Flags().StringVar(&repoType, "repo-type", "model", "model|dataset")
	cmd.Flags().StringVar(&localDir, "local-dir", "", "destination directory")
	cmd.Flags().IntVarP(&maxConcurrent, "concurrent", "c", 8, "maximum concurrent file downloads")
	cmd.Flags().BoolVar(&dedup, "dedup", true, "enable XET dedup")

	return cmd
}
