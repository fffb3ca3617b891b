package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"dmdesk/internal/config"

	"github.com/spf13/cobra"
)

// Archive entries live under these prefixes so restore can route them back
// regardless of where the target install keeps its files.
const (
	archiveConfigDir  = "config"
	archiveSessionDir = "session"
)

// archiveEntry pairs a file on disk with its name inside the archive.
type archiveEntry struct {
	Src  string
	Name string
}

// backupTargets lists the config file and the session state for the
// configured backend: the sqlite database with its WAL files, or the file
// backend's JSON blobs.
func backupTargets(cfgPath string, sc config.SessionConfig) []archiveEntry {
	var entries []archiveEntry
	add := func(src, dir string) {
		if info, err := os.Stat(src); err == nil && !info.IsDir() {
			entries = append(entries, archiveEntry{Src: src, Name: path.Join(dir, filepath.Base(src))})
		}
	}

	add(cfgPath, archiveConfigDir)
	switch sc.Backend {
	case "sqlite":
		add(sc.DBPath, archiveSessionDir)
		add(sc.DBPath+"-wal", archiveSessionDir)
		add(sc.DBPath+"-shm", archiveSessionDir)
	default:
		matches, _ := filepath.Glob(filepath.Join(sc.Dir, "*.json"))
		for _, m := range matches {
			add(m, archiveSessionDir)
		}
	}
	return entries
}

// restoreTarget maps an archive entry name back onto this install, or ""
// for entries that do not belong to a backup.
func restoreTarget(name, cfgPath string, sc config.SessionConfig) string {
	dir, base := path.Split(path.Clean(name))
	dir = strings.TrimSuffix(dir, "/")
	if base == "" || base == "." || base == ".." {
		return ""
	}
	switch dir {
	case archiveConfigDir:
		return cfgPath
	case archiveSessionDir:
		if sc.Backend == "sqlite" {
			db := filepath.Base(sc.DBPath)
			switch {
			case base == db || base == db+"-wal" || base == db+"-shm":
				return filepath.Join(filepath.Dir(sc.DBPath), base)
			case strings.HasSuffix(base, "-wal"):
				return sc.DBPath + "-wal"
			case strings.HasSuffix(base, "-shm"):
				return sc.DBPath + "-shm"
			default:
				return sc.DBPath
			}
		}
		if strings.HasSuffix(base, ".json") {
			return filepath.Join(sc.Dir, base)
		}
	}
	return ""
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config and session state",
		Long: `Creates a compressed .tar.gz archive containing the config file and the
persisted Instagram session. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(cfg.General.DataDir, "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("dmdesk-backup-%s.tar.gz", ts))
			}

			entries := backupTargets(cfgPath, cfg.Session)
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (config: %s, session backend: %s)", cfgPath, cfg.Session.Backend)
			}
			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, e := range entries {
				var size int64
				if info, err := os.Stat(e.Src); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", e.Name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <dataDir>/backups/dmdesk-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore config and session state from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if !force && len(backupTargets(cfgPath, cfg.Session)) > 0 {
				fmt.Printf("WARNING: this overwrites the existing config and session.\n")
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			restored, err := extractTarGz(args[0], func(name string) string {
				return restoreTarget(name, cfgPath, cfg.Session)
			})
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

func createTarGz(outputPath string, entries []archiveEntry) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)
	for _, e := range entries {
		if err := addFileToTar(tarWriter, e); err != nil {
			return fmt.Errorf("add %s: %w", e.Src, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	file, err := os.Open(e.Src)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = e.Name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes each regular file to target(name), skipping entries
// for which target returns "".
func extractTarGz(archivePath string, target func(name string) string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		dst := target(header.Name)
		if dst == "" {
			logger.Warn("skipping unknown archive entry", "name", header.Name)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", dst, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", dst, err)
		}
		if err := outFile.Close(); err != nil {
			return nil, err
		}
		restored = append(restored, dst)
	}
	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
