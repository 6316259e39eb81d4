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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"recruitbot/internal/config"
)

// Archive layout: config.json, the database files by base name, and
// attachments under attachments/.
const (
	archiveConfigName    = "config.json"
	archiveAttachmentDir = "attachments"
)

// backupSet maps archive names to files on disk.
type backupSet map[string]string

func collectBackup(cfgPath string, cfg *config.Config) (backupSet, error) {
	set := backupSet{}
	if _, err := os.Stat(cfgPath); err == nil {
		set[archiveConfigName] = cfgPath
	}

	dbPath := config.ExpandPath(cfg.Gateway.DBPath)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		p := dbPath + suffix
		if _, err := os.Stat(p); err == nil {
			set[filepath.Base(p)] = p
		}
	}

	attachDir := config.ExpandPath(cfg.Gateway.AttachmentDir)
	entries, err := os.ReadDir(attachDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read attachments: %w", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			set[path.Join(archiveAttachmentDir, e.Name())] = filepath.Join(attachDir, e.Name())
		}
	}
	return set, nil
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the gateway database, attachments and config",
		Long: `Creates a compressed .tar.gz archive containing the gateway SQLite
database, the uploaded attachments and the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("recruitbot-backup-%s.tar.gz", ts))
			}

			set, err := collectBackup(cfgPath, cfg)
			if err != nil {
				return err
			}
			if len(set) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", cfg.Gateway.DBPath, cfgPath)
			}

			total, err := createTarGz(outputPath, set)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", outputPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Files included: %d (%s)\n", len(set), humanize.Bytes(uint64(total)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.recruitbot/backups/recruitbot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [archive]",
		Short: "Restore gateway data and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbPath := config.ExpandPath(cfg.Gateway.DBPath)

			if !force {
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "WARNING: %s exists and would be overwritten.\n", p)
						return fmt.Errorf("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractTarGz(args[0], restoreTargets{
				configPath:    cfgPath,
				dbPath:        dbPath,
				attachmentDir: config.ExpandPath(cfg.Gateway.AttachmentDir),
			})
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Restore completed from: %s\n", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Files restored: %d\n", len(restored))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz writes every file in set to a .tar.gz and returns the bytes archived.
func createTarGz(outputPath string, set backupSet) (int64, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	var total int64
	for name, filePath := range set {
		n, err := addFileToTar(tarWriter, name, filePath)
		if err != nil {
			return 0, fmt.Errorf("add %s: %w", filePath, err)
		}
		total += n
	}

	if err := tarWriter.Close(); err != nil {
		return 0, err
	}
	if err := gzWriter.Close(); err != nil {
		return 0, err
	}
	return total, outFile.Close()
}

func addFileToTar(tw *tar.Writer, name, filePath string) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return 0, err
	}
	return io.Copy(tw, file)
}

type restoreTargets struct {
	configPath    string
	dbPath        string
	attachmentDir string
}

// target maps an archive entry name to its restore location. Unknown
// entries are skipped.
func (rt restoreTargets) target(name string) (string, bool) {
	name = path.Clean(name)
	dbBase := filepath.Base(rt.dbPath)
	switch {
	case name == archiveConfigName:
		return rt.configPath, true
	case name == dbBase, name == dbBase+"-wal", name == dbBase+"-shm":
		return filepath.Join(filepath.Dir(rt.dbPath), name), true
	case strings.HasSuffix(name, ".db"):
		return rt.dbPath, true
	case strings.HasSuffix(name, ".db-wal"):
		return rt.dbPath + "-wal", true
	case strings.HasSuffix(name, ".db-shm"):
		return rt.dbPath + "-shm", true
	case path.Dir(name) == archiveAttachmentDir:
		return filepath.Join(rt.attachmentDir, path.Base(name)), true
	default:
		return "", false
	}
}

func extractTarGz(archivePath string, rt restoreTargets) ([]string, error) {
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

		targetPath, ok := rt.target(header.Name)
		if !ok {
			logger.Warn("skipping unknown archive entry", "name", header.Name)
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

	return restored, nil
}
