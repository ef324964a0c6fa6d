// Package geo is the city directory behind the search widget: a SQLite table of GeoNames
// cities searchable by name prefix.
package geo

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// DefaultLimit caps Search results when the caller passes 0.
const DefaultLimit = 10

// MaxLimit is the largest limit Search honours.
const MaxLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS cities (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	ascii_name TEXT NOT NULL,
	country    TEXT NOT NULL,
	admin1     TEXT NOT NULL DEFAULT '',
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	population INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cities_ascii_name ON cities(ascii_name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_cities_name ON cities(name COLLATE NOCASE);
`

// City is one directory row.
type City struct {
	ID         int64
	Name       string
	ASCIIName  string
	Country    string
	Admin1     string
	Latitude   float64
	Longitude  float64
	Population int64
}

// Location converts c into the search widget's label/value pair.
func (c City) Location() models.Location {
	return models.Location{
		Label:     c.Name + ", " + c.Country,
		Value:     strconv.FormatFloat(c.Latitude, 'f', 4, 64) + " " + strconv.FormatFloat(c.Longitude, 'f', 4, 64),
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
	}
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the directory at path. ":memory:" gives a private in-memory
// database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open city directory: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping city directory: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init city schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Search returns cities whose name starts with query, most populous first.
// A blank query returns no results.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.Location, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Location{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	pattern := escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ascii_name, country, admin1, latitude, longitude, population
		FROM cities
		WHERE name LIKE ? ESCAPE '\' OR ascii_name LIKE ? ESCAPE '\'
		ORDER BY population DESC, name
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search cities: %w", err)
	}
	defer rows.Close()

	out := make([]models.Location, 0, limit)
	for rows.Next() {
		var c City
		if err := rows.Scan(&c.ID, &c.Name, &c.ASCIIName, &c.Country, &c.Admin1, &c.Latitude, &c.Longitude, &c.Population); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		out = append(out, c.Location())
	}
	return out, rows.Err()
}

// Count returns the number of cities stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cities: %w", err)
	}
	return n, nil
}

// Insert adds or replaces cities in one transaction.
func (s *Store) Insert(ctx context.Context, cities []City) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cities {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.ASCIIName, c.Country, c.Admin1, c.Latitude, c.Longitude, c.Population); err != nil {
			return fmt.Errorf("insert city %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

const insertSQL = `INSERT OR REPLACE INTO cities
	(id, name, ascii_name, country, admin1, latitude, longitude, population)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// ImportStats summarises an Import run.
type ImportStats struct {
	Imported int
	Skipped  int
}

// Import reads a GeoNames cities dump (tab-separated, no header, e.g. cities15000.txt) and
// upserts every valid row in a single transaction. Malformed rows are skipped.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var stats ImportStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return stats, err
	}
	defer stmt.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		c, err := ParseGeoNamesLine(line)
		if err != nil {
			stats.Skipped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.ASCIIName, c.Country, c.Admin1, c.Latitude, c.Longitude, c.Population); err != nil {
			return stats, fmt.Errorf("insert city %d: %w", c.ID, err)
		}
		stats.Imported++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read geonames dump: %w", err)
	}
	return stats, tx.Commit()
}

var errShortRecord = errors.New("geonames record has too few fields")

// ParseGeoNamesLine parses one row of the GeoNames "geoname" table:
// id, name, asciiname, alternatenames, latitude, longitude, feature class, feature code,
// country code, cc2, admin1 code, admin2..4, population, ...
func ParseGeoNamesLine(line string) (City, error) {
	f := strings.Split(line, "\t")
	if len(f) < 15 {
		return City{}, errShortRecord
	}
	id, err := strconv.ParseInt(strings.TrimSpace(f[0]), 10, 64)
	if err != nil {
		return City{}, fmt.Errorf("invalid id: %w", err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(f[4]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return City{}, fmt.Errorf("invalid latitude %q", f[4])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(f[5]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return City{}, fmt.Errorf("invalid longitude %q", f[5])
	}
	pop, _ := strconv.ParseInt(strings.TrimSpace(f[14]), 10, 64)

	c := City{
		ID:         id,
		Name:       strings.TrimSpace(f[1]),
		ASCIIName:  strings.TrimSpace(f[2]),
		Country:    strings.TrimSpace(f[8]),
		Admin1:     strings.TrimSpace(f[10]),
		Latitude:   lat,
		Longitude:  lon,
		Population: pop,
	}
	if c.Name == "" {
		return City{}, errors.New("empty name")
	}
	if c.ASCIIName == "" {
		c.ASCIIName = c.Name
	}
	return c, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
