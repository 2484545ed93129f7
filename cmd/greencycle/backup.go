package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"greencycle/internal/config"
	"greencycle/internal/store"
)

const configArchiveName = "config.json"

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of Greencycle data (pickup database + config)",
		Long: `Creates a compressed .tar.gz archive containing a consistent snapshot
of the pickup database and the configuration file. Safe to run while
'greencycle serve' is running. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(cfg.General.DataDir, "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("greencycle-backup-%s.tar.gz", ts))
			}

			tmp, err := os.MkdirTemp("", "greencycle-backup-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)

			files := map[string]string{}

			if _, err := os.Stat(cfg.Store.DBPath); err == nil {
				snap := filepath.Join(tmp, filepath.Base(cfg.Store.DBPath))
				if err := snapshotDatabase(cmd.Context(), cfg.Store.DBPath, snap); err != nil {
					return err
				}
				files[filepath.Base(cfg.Store.DBPath)] = snap
			}
			if _, err := os.Stat(cfgPath); err == nil {
				files[configArchiveName] = cfgPath
			}

			if len(files) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", cfg.Store.DBPath, cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for name, src := range files {
				size := int64(0)
				if info, err := os.Stat(src); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <dataDir>/backups/greencycle-backup-<timestamp>.tar.gz)")
	return cmd
}

func snapshotDatabase(ctx context.Context, dbPath, target string) error {
	st, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Snapshot(ctx, target)
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore Greencycle data from a backup archive",
		Long: `Restores the pickup database and configuration file from a .tar.gz
backup archive created by 'greencycle backup'. Stop 'greencycle serve' first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return errors.New("specify a backup file: greencycle restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			dbPath := config.Defaults().Store.DBPath
			if cfg, err := config.Load(cfgPath); err == nil {
				dbPath = cfg.Store.DBPath
			}
			dbPath = config.ExpandPath(dbPath)

			if !force {
				existing := false
				if _, err := os.Stat(dbPath); err == nil {
					existing = true
				}
				if _, err := os.Stat(cfgPath); err == nil {
					existing = true
				}
				if existing {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Database: %s\n", dbPath)
					fmt.Printf("  Config:   %s\n", cfgPath)
					fmt.Printf("Use --force to skip this warning.\n")
					return errors.New("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(inputPath, dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			// a stale WAL from the old database would be replayed over the restored file
			for _, suffix := range []string{"-wal", "-shm"} {
				os.Remove(dbPath + suffix)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz writes files (archive name -> source path) into a .tar.gz.
func createTarGz(outputPath string, files map[string]string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for name, src := range files {
		if err := addFileToTar(tarWriter, name, src); err != nil {
			return fmt.Errorf("add %s: %w", src, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, name, filePath string) error {
	file, err := os.Open(filePath)
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
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores the database and config entries of a backup archive.
// Other entries are skipped.
func extractTarGz(archivePath, dbPath, cfgPath string) ([]string, error) {
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
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		var targetPath string
		switch baseName := filepath.Base(header.Name); {
		case baseName == configArchiveName:
			targetPath = cfgPath
		case strings.HasSuffix(baseName, ".db"):
			targetPath = dbPath
		default:
			logger.Warn("skipping unknown backup entry", "name", header.Name)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}

	if len(restored) == 0 {
		return nil, errors.New("archive contains no database or config")
	}
	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
