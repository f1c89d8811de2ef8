// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	conf "github.com/bodaay/hfxet/internal/config"
	"github.com/bodaay/hfxet/internal/tui"
	"github.com/bodaay/hfxet/pkg/hfxet"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token    string
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogLevel string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "hfxet",
		Short:         "Download files and snapshots from a HuggingFace-style hub, with optional XET dedup",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "hub access token (also reads HF_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "emit machine-readable JSON progress lines")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "quiet mode (minimal output)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "path to config.toml (defaults to ~/.config/hfxet/config.toml)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides HFXET_LOG_LEVEL)")

	downloadCmd := newDownloadCmd(ctx, ro)
	root.AddCommand(downloadCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newConfigCmd())

	root.RunE = downloadCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newDownloadCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	job := &hfxet.Job{}
	cfg := &hfxet.Config{}
	var repoType string
	var allow, ignore []string
	var singleFile string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "download [REPO]",
		Short: "Download a single file or a full repository snapshot",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applyConfigDefaults(cmd, ro, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			finalJob, finalCfg, err := finalize(cmd, ro, args, job, cfg, repoType, allow, ignore)
			if err != nil {
				return err
			}

			client, err := hfxet.NewClient(finalCfg)
			if err != nil {
				return err
			}
			defer client.Close()

			if dryRun {
				files, err := hfxet.ListFiles(ctx, client, finalJob)
				if err != nil {
					return err
				}
				if ro.JSONOut {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(files)
				}
				rev := finalJob.Revision
				if rev == "" {
					rev = "main"
				}
				fmt.Printf("Plan for %s@%s (%d files):\n", finalJob.Repo, rev, len(files))
				for _, f := range files {
					fmt.Printf("  %s  %8d  lfs=%t\n", f.Path, f.Size, f.IsLFS)
				}
				return nil
			}

			progress := selectProgressFunc(ro, finalJob)
			if renderer, ok := progress.(*rendererProgress); ok {
				defer renderer.lr.Close()
			}

			if singleFile != "" {
				_, err := client.DownloadFile(ctx, finalJob, singleFile, progress.fn(), nil)
				return err
			}
			_, err = client.DownloadSnapshot(ctx, finalJob, progress.fn(), nil)
			return err
		},
	}

	cmd.Flags().StringVarP(&job.Repo, "repo", "r", "", "repository id (owner/name); if omitted, the positional REPO is used")
	cmd.Flags().StringVar(&repoType, "repo-type", "model", "model|dataset")
	cmd.Flags().StringVarP(&job.Revision, "revision", "b", "main", "revision/branch to download")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "comma-separated substrings; a path containing any of them is kept")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "comma-separated substrings that exclude a path")
	cmd.Flags().StringVar(&job.LocalDir, "local-dir", "", "destination directory (overrides the cache layout)")
	cmd.Flags().StringVar(&singleFile, "file", "", "download only this repo-relative file instead of a full snapshot")

	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", "https://huggingface.co", "hub endpoint, for mirrors")
	cmd.Flags().StringVar(&cfg.CacheDir, "cache-dir", "", "root for downloaded files and the XET cache (unset: files go to the working directory, XET cache follows HF_XET_CACHE precedence)")
	cmd.Flags().IntVarP(&cfg.MaxConcurrent, "concurrent", "c", 8, "maximum concurrent file downloads in a snapshot")
	cmd.Flags().BoolVar(&cfg.EnableDedup, "dedup", true, "try XET content-addressed dedup before falling back to plain HTTP")

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list files and exit without downloading")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func finalize(cmd *cobra.Command, ro *RootOpts, args []string, job *hfxet.Job, cfg *hfxet.Config, repoType string, allow, ignore []string) (hfxet.Job, hfxet.Config, error) {
	j := *job
	c := *cfg
	j.Allow = allow
	j.Ignore = ignore
	if strings.EqualFold(repoType, "dataset") {
		j.Kind = hfxet.RepoDataset
	}

	tok := strings.TrimSpace(ro.Token)
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv("HF_TOKEN"))
	}
	c.Token = tok

	if j.Repo == "" && len(args) > 0 {
		j.Repo = args[0]
	}
	if j.Repo == "" {
		return j, c, fmt.Errorf("missing REPO (owner/name); pass as positional arg or --repo")
	}

	return j, c, nil
}

func applyConfigDefaults(cmd *cobra.Command, ro *RootOpts, dst *hfxet.Config) error {
	path := ro.Config
	if path == "" {
		p, err := conf.Path()
		if err != nil {
			return nil
		}
		path = p
	}
	file, err := conf.Load(path)
	if err != nil {
		return err
	}

	setStr := func(flag string, cur *string, v string) {
		if v == "" || cmd.Flags().Changed(flag) {
			return
		}
		*cur = v
	}
	setInt := func(flag string, cur *int, v int) {
		if v == 0 || cmd.Flags().Changed(flag) {
			return
		}
		*cur = v
	}

	setStr("endpoint", &dst.Endpoint, file.Endpoint)
	setStr("cache-dir", &dst.CacheDir, file.CacheDir)
	setInt("concurrent", &dst.MaxConcurrent, file.MaxConcurrent)
	if !cmd.Flags().Changed("dedup") {
		dst.EnableDedup = file.EnableDedup
	}
	if ro.Token == "" && strings.TrimSpace(os.Getenv("HF_TOKEN")) == "" {
		ro.Token = file.Token
	}
	if ro.LogLevel == "" && file.LogLevel != "" {
		os.Setenv("HFXET_LOG_LEVEL", file.LogLevel)
	}
	if ro.LogLevel != "" {
		os.Setenv("HFXET_LOG_LEVEL", ro.LogLevel)
	}
	return nil
}

// progressSink lets selectProgressFunc return either a plain ProgressFunc
// or one backed by a renderer that needs a deferred Close.
type progressSink interface {
	fn() hfxet.ProgressFunc
}

type plainProgress hfxet.ProgressFunc

func (p plainProgress) fn() hfxet.ProgressFunc { return hfxet.ProgressFunc(p) }

type rendererProgress struct{ lr *tui.LiveRenderer }

func (r *rendererProgress) fn() hfxet.ProgressFunc { return r.lr.Handler() }

func selectProgressFunc(ro *RootOpts, job hfxet.Job) progressSink {
	switch {
	case ro.JSONOut:
		return plainProgress(jsonProgress(os.Stdout))
	case ro.Quiet:
		return plainProgress(cliProgress(job))
	default:
		return &rendererProgress{lr: tui.NewLiveRenderer(job.Repo)}
	}
}

// cliProgress returns a simple text-based progress handler.
func cliProgress(job hfxet.Job) hfxet.ProgressFunc {
	var lastPhase hfxet.ProgressPhase = -1
	return func(s hfxet.ProgressSnapshot) {
		if s.Phase != lastPhase {
			fmt.Printf("[%s] %s@%s\n", s.Phase, job.Repo, job.Revision)
			lastPhase = s.Phase
		}
		if s.CurrentFile != "" {
			fmt.Printf("  %s: %d/%d bytes (%d/%d files)\n", s.CurrentFile, s.CurrentFileCompletedBytes, s.CurrentFileTotalBytes, s.CompletedFiles, s.TotalFiles)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) hfxet.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(s hfxet.ProgressSnapshot) {
		mu.Lock()
		_ = enc.Encode(s)
		mu.Unlock()
	}
}
