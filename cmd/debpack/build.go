package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/etnz/debpack/deb"
	"github.com/etnz/debpack/manifest"
)

type buildOptions struct {
	file        string
	output      string
	defines     map[string]string
	compression string
	threads     int
	preset      uint32
	includeRoot bool
	sign        bool
	noProgress  bool
}

func newBuildCommand() *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a .deb from a definition file",
		Long: "Build a .deb from a YAML or JSON definition. The output defaults to the\n" +
			"canonical package file name in the current directory. With --sign the\n" +
			"ASCII-armored private key is read from GPG_PRIVATE_KEY.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "debpack.yaml", "Path to the package definition.")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file or directory.")
	cmd.Flags().StringToStringVar(&opts.defines, "define", nil, "Define template variables (KEY=VALUE).")
	cmd.Flags().StringVar(&opts.compression, "compression", "", "Payload compression: xz or gzip.")
	cmd.Flags().IntVar(&opts.threads, "threads", 0, "xz threads, -1 for every CPU.")
	cmd.Flags().Uint32Var(&opts.preset, "preset", 0, "xz preset, 0 to 9.")
	cmd.Flags().BoolVar(&opts.includeRoot, "include-root", false, "Add the root directory to the payload.")
	cmd.Flags().BoolVar(&opts.sign, "sign", false, "Sign the package with GPG_PRIVATE_KEY.")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar.")
	return cmd
}

func runBuild(cmd *cobra.Command, opts buildOptions) error {
	def, err := manifest.Load(opts.file, opts.defines)
	if err != nil {
		return err
	}

	b := deb.Builder{
		Threads:     opts.threads,
		Preset:      opts.preset,
		IncludeRoot: opts.includeRoot,
		Logger:      log,
	}
	if opts.compression != "" {
		if b.Compression, err = deb.ParseCompression(opts.compression); err != nil {
			return err
		}
	}
	if opts.sign {
		key := os.Getenv("GPG_PRIVATE_KEY")
		if key == "" {
			return fmt.Errorf("--sign requires GPG_PRIVATE_KEY")
		}
		if b.Signer, err = deb.LoadSigner(key); err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		b.Progress = func(total int64) io.Writer {
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("compressing"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionThrottle(60*time.Millisecond),
			)
			return bar
		}
	}

	output, err := outputPath(def, opts.output)
	if err != nil {
		return err
	}
	out, err := createOutput(output)
	if err != nil {
		return err
	}
	defer out.Cleanup()

	listener := func(e fmt.Stringer) { log.Info(e.String()) }
	if err := def.Build(out, b, listener); err != nil {
		return err
	}
	if bar != nil {
		if err := bar.Finish(); err != nil {
			log.WithError(err).Warn("failed to finish the progress bar")
		}
	}
	if err := out.Commit(); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	log.WithField("path", output).Info("package written")
	return nil
}

// outputPath resolves the -o flag: empty or a directory means the
// canonical file name inside it.
func outputPath(def *manifest.Definition, output string) (string, error) {
	if output != "" {
		if fi, err := os.Stat(output); err != nil || !fi.IsDir() {
			return output, nil
		}
	}
	name, err := def.Filename()
	if err != nil {
		return "", err
	}
	return filepath.Join(output, name), nil
}
