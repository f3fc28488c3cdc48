package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"airquality-platform/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	migrationsDir := flag.String("dir", "migrations", "Directory containing migration files")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q, expected up or down\n", *direction)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Connect to database
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Connected to database successfully")

	// Collect migration files for the requested direction
	pattern := filepath.Join(*migrationsDir, "*."+*direction+".sql")
	files, err := filepath.Glob(pattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list migration files: %v\n", err)
		os.Exit(1)
	}

	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No migration files matching %s\n", pattern)
		os.Exit(1)
	}

	// Numbered prefixes order migrations; down migrations run in reverse.
	sort.Strings(files)
	if *direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read migration file %s: %v\n", file, err)
			os.Exit(1)
		}

		if strings.TrimSpace(string(content)) == "" {
			continue
		}

		fmt.Printf("Running migration: %s\n", file)

		if _, err := db.Exec(string(content)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to execute migration %s: %v\n", file, err)
			os.Exit(1)
		}
	}

	fmt.Println("Migration completed successfully")
}
