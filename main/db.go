package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// SweepRecord is one recorded invocation of tpurun run; its launches hang
// off it by sweep id.
type SweepRecord struct {
	ID        string
	Name      string
	TPU       string
	Zone      string
	Worker    string
	GitCommit string
	GitBranch string
	CreatedAt time.Time
}

// LaunchRecord is one dispatched remote command. Status moves LAUNCHING ->
// DISPATCHED or FAILED; the driver never revisits a finished record.
type LaunchRecord struct {
	ID           int64
	SweepID      string
	Seq          int
	ConfigPath   string
	Command      string
	Status       string
	ExitCode     int
	Output       string
	DispatchedAt time.Time
	FinishedAt   time.Time
}

func dbPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "launches.db"), nil
}

func openDB() (*sql.DB, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}
	return openRegistry(path)
}

func openRegistry(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sweeps (
  id         TEXT PRIMARY KEY,
  name       TEXT,
  tpu        TEXT,
  zone       TEXT,
  worker     TEXT,
  git_commit TEXT,
  git_branch TEXT,
  created_at TEXT
);`,
		`CREATE TABLE IF NOT EXISTS launches (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  sweep_id      TEXT,
  seq           INTEGER,
  config_path   TEXT,
  command       TEXT,
  status        TEXT,
  exit_code     INTEGER,
  output        TEXT,
  dispatched_at TEXT,
  finished_at   TEXT
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func insertSweep(db *sql.DB, rec SweepRecord) error {
	_, err := db.Exec(
		`INSERT INTO sweeps (id, name, tpu, zone, worker, git_commit, git_branch, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.TPU, rec.Zone, rec.Worker, rec.GitCommit, rec.GitBranch,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func insertLaunch(db *sql.DB, rec LaunchRecord) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO launches (sweep_id, seq, config_path, command, status, exit_code, output, dispatched_at, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SweepID, rec.Seq, rec.ConfigPath, rec.Command, rec.Status, rec.ExitCode, rec.Output,
		rec.DispatchedAt.UTC().Format(time.RFC3339), "",
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func finishLaunch(db *sql.DB, id int64, status string, code int, output string, finishedAt time.Time) error {
	_, err := db.Exec(
		`UPDATE launches SET status = ?, exit_code = ?, output = ?, finished_at = ? WHERE id = ?`,
		status, code, output, finishedAt.UTC().Format(time.RFC3339), id,
	)
	return err
}

func loadLaunchByID(db *sql.DB, id string) (*LaunchRecord, *SweepRecord, error) {
	row := db.QueryRow(
		`SELECT l.id, l.sweep_id, l.seq, l.config_path, l.command, l.status, l.exit_code, l.output,
                l.dispatched_at, l.finished_at,
                s.id, s.name, s.tpu, s.zone, s.worker, s.git_commit, s.git_branch, s.created_at
         FROM launches l LEFT JOIN sweeps s ON s.id = l.sweep_id
         WHERE l.id = ?`, id)

	var launch LaunchRecord
	var sweep SweepRecord
	var dispatched, finished, created sql.NullString
	var sweepID, sweepName, tpu, zone, worker, commit, branch sql.NullString
	if err := row.Scan(
		&launch.ID, &launch.SweepID, &launch.Seq, &launch.ConfigPath, &launch.Command,
		&launch.Status, &launch.ExitCode, &launch.Output, &dispatched, &finished,
		&sweepID, &sweepName, &tpu, &zone, &worker, &commit, &branch, &created,
	); err != nil {
		return nil, nil, err
	}
	launch.DispatchedAt = parseRecordedTime(dispatched)
	launch.FinishedAt = parseRecordedTime(finished)
	sweep.ID = sweepID.String
	sweep.Name = sweepName.String
	sweep.TPU = tpu.String
	sweep.Zone = zone.String
	sweep.Worker = worker.String
	sweep.GitCommit = commit.String
	sweep.GitBranch = branch.String
	sweep.CreatedAt = parseRecordedTime(created)
	return &launch, &sweep, nil
}

func parseRecordedTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tpurun list\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open DB: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(
		`SELECT l.id, s.name, s.tpu, l.config_path, l.status, l.exit_code, l.dispatched_at
         FROM launches l LEFT JOIN sweeps s ON s.id = l.sweep_id
         ORDER BY l.id DESC`)
	if err != nil {
		return fmt.Errorf("query launches: %w", err)
	}
	defer rows.Close()

	fmt.Printf("%-5s %-12s %-18s %-44s %-10s %-5s %-16s\n",
		"ID", "SWEEP", "TPU", "CONFIG", "STATUS", "EXIT", "DISPATCHED")
	for rows.Next() {
		var id int64
		var exit int
		var name, tpu, configPath, status sql.NullString
		var dispatched sql.NullString
		if err := rows.Scan(&id, &name, &tpu, &configPath, &status, &exit, &dispatched); err != nil {
			return err
		}
		age := ""
		if t := parseRecordedTime(dispatched); !t.IsZero() {
			age = humanize.Time(t)
		}
		fmt.Printf("%-5d %-12s %-18s %-44s %-10s %-5d %-16s\n",
			id, name.String, tpu.String, configPath.String, status.String, exit, age)
	}
	return rows.Err()
}

func cmdShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tpurun show <id>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("id is required")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open DB: %w", err)
	}
	defer db.Close()

	launch, sweep, err := loadLaunchByID(db, fs.Arg(0))
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("no launch with id %s", fs.Arg(0))
		}
		return err
	}

	fmt.Printf("Launch %d\n", launch.ID)
	fmt.Println("---------")
	fmt.Printf("Sweep:       %s (%s)\n", sweep.Name, sweep.ID)
	fmt.Printf("Target:      %s (zone %s, worker %s)\n", sweep.TPU, sweep.Zone, sweep.Worker)
	fmt.Printf("Position:    %d\n", launch.Seq)
	fmt.Printf("Config:      %s\n", launch.ConfigPath)
	fmt.Printf("Status:      %s\n", launch.Status)
	fmt.Printf("Exit code:   %d\n", launch.ExitCode)
	if sweep.GitCommit != "" {
		fmt.Printf("Git commit:  %s\n", sweep.GitCommit)
	}
	if sweep.GitBranch != "" {
		fmt.Printf("Git branch:  %s\n", sweep.GitBranch)
	}
	if !launch.DispatchedAt.IsZero() {
		fmt.Printf("Dispatched:  %s (%s)\n",
			launch.DispatchedAt.Format(time.RFC3339), humanize.Time(launch.DispatchedAt))
	}
	if !launch.FinishedAt.IsZero() {
		fmt.Printf("Finished:    %s\n", launch.FinishedAt.Format(time.RFC3339))
	}
	fmt.Printf("Command:     %s\n", launch.Command)
	if out := strings.TrimSpace(launch.Output); out != "" {
		fmt.Println("Output:")
		fmt.Println(out)
	}
	return nil
}
