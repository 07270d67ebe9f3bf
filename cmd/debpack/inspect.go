package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/cobra"

	"github.com/etnz/debpack/deb"
)

func newInfoCommand() *cobra.Command {
	var stanza bool
	var filename string
	cmd := &cobra.Command{
		Use:   "info <file.deb>",
		Short: "Show the control information of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			w := cmd.OutOrStdout()
			if stanza {
				if filename == "" {
					filename = filepath.Base(args[0])
				}
				fields, err := deb.Stanza(f, filename)
				if err != nil {
					return err
				}
				return deb.WriteStanza(w, fields)
			}

			d, err := deb.Read(f)
			if err != nil {
				return err
			}
			printInfo(w, d)
			return deb.WriteStanza(w, d.Control)
		},
	}
	cmd.Flags().BoolVar(&stanza, "stanza", false, "Print an APT Packages stanza instead.")
	cmd.Flags().StringVar(&filename, "filename", "", "Filename field of the stanza, the file name by default.")
	return cmd
}

func printInfo(w io.Writer, d *deb.DebPackage) {
	fmt.Fprintf(w, " new Debian package, version %s.\n", d.FormatVersion)
	fmt.Fprintf(w, " %s, %d bytes.\n", d.DataMember, d.DataSize)

	var scripts []string
	for name, body := range map[string]string{
		"preinst":  d.Scripts.PreInst,
		"postinst": d.Scripts.PostInst,
		"prerm":    d.Scripts.PreRm,
		"postrm":   d.Scripts.PostRm,
	} {
		if body != "" {
			scripts = append(scripts, name)
		}
	}
	sort.Strings(scripts)
	for _, s := range scripts {
		fmt.Fprintf(w, " script: %s\n", s)
	}

	extras := make([]string, 0, len(d.ControlExtras))
	for name := range d.ControlExtras {
		extras = append(extras, name)
	}
	sort.Strings(extras)
	for _, name := range extras {
		x := d.ControlExtras[name]
		fmt.Fprintf(w, " %s %6d bytes %s\n", x.Mode, len(x.Contents), name)
	}
	if len(d.Signature) > 0 {
		fmt.Fprintln(w, " signed (_gpgorigin)")
	}
}

// openPayload opens path and its decompressed data.tar.
func openPayload(path string) (io.ReadCloser, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	payload, err := deb.OpenPayload(f, nil)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return payload, func() {
		payload.Close()
		f.Close()
	}, nil
}

func newContentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contents <file.deb>",
		Short: "List the files installed by a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, done, err := openPayload(args[0])
			if err != nil {
				return err
			}
			defer done()

			entries, err := deb.Contents(payload)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range entries {
				line := fmt.Sprintf("%s %s/%s %10d %s %s", e.Mode, e.Owner, e.Group, e.Size,
					time.Unix(e.Modified, 0).UTC().Format("2006-01-02 15:04"), e.Path)
				if e.LinkTo != "" {
					line += " -> " + e.LinkTo
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
}

func newExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file.deb> <dir>",
		Short: "Extract the files installed by a package into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, done, err := openPayload(args[0])
			if err != nil {
				return err
			}
			defer done()

			if err := deb.Extract(payload, args[1]); err != nil {
				return err
			}
			log.WithField("dir", args[1]).Info("extracted")
			return nil
		},
	}
}

func newVerifyCommand() *cobra.Command {
	var keyringPath string
	cmd := &cobra.Command{
		Use:   "verify <file.deb>",
		Short: "Check the md5sums and, with --keyring, the signature of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			d, err := deb.Read(f)
			if err != nil {
				return err
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			payload, err := deb.OpenPayload(f, nil)
			if err != nil {
				return err
			}
			err = deb.VerifyPayload(d, payload)
			payload.Close()
			if err != nil {
				return err
			}
			log.WithField("files", len(d.MD5Sums)).Info("md5sums verified")

			if keyringPath == "" {
				if len(d.Signature) > 0 {
					log.Warn("package is signed but no --keyring was given")
				}
				return nil
			}
			keyring, err := readKeyRing(keyringPath)
			if err != nil {
				return err
			}
			signer, err := deb.VerifySignature(f, keyring)
			if err != nil {
				return err
			}
			for name := range signer.Identities {
				log.WithField("key", signer.PrimaryKey.KeyIdString()).Infof("good signature from %s", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyringPath, "keyring", "", "OpenPGP public key ring, armored or binary.")
	return cmd
}

func readKeyRing(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if kr, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data)); err == nil {
		return kr, nil
	}
	kr, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading keyring %s: %w", path, err)
	}
	return kr, nil
}
