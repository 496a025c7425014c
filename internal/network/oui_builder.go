package network

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

// OUIDB represents our compact database
type OUIDB struct {
	Entries map[string]OUIEntry // Raw uppercase hex prefix (e.g., "001122"; 6, 7, or 9 chars) -> Entry
	Updated time.Time
}

type OUIEntry struct {
	Manufacturer string
	Country      string
}

// IEEEOUISource is the URL for the MA-L (OUI) registry
const IEEEOUISource = "https://standards-oui.ieee.org/oui/oui.txt"

// IEEEMAMSource is the URL for the MA-M (OUI-28) registry
const IEEEMAMSource = "https://standards-oui.ieee.org/oui28/mam.txt"

// IEEEMASSource is the URL for the MA-S (OUI-36) registry
const IEEEMASSource = "https://standards-oui.ieee.org/oui36/oui36.txt"

// IEEEIABSource is the URL for the MA-M (IAB) registry
const IEEEIABSource = "https://standards-oui.ieee.org/iab/iab.txt"

// Parser Regex for IEEE format:
// 00-00-5E   (hex)		USC INFORMATION SCIENCES INST
// 00005E     (base 16)		USC INFORMATION SCIENCES INST
var hexLineRegex = regexp.MustCompile(`^([0-9A-F]{2})-([0-9A-F]{2})-([0-9A-F]{2})([-0-9A-F]*)\s+\(hex\)\s+(.+)$`)

// BuildOUIDB downloads and parses IEEE OUI data into a compact DB
func BuildOUIDB() (*OUIDB, error) {
	db := &OUIDB{
		Entries: make(map[string]OUIEntry),
		Updated: time.Now(),
	}

	sources := []string{IEEEOUISource, IEEEMAMSource, IEEEMASSource, IEEEIABSource}

	for _, url := range sources {
		if err := fetchAndParse(url, db); err != nil {
			// A partial registry would silently misattribute vendors, so
			// any source failing fails the build.
			return nil, fmt.Errorf("failed to process %s: %w", url, err)
		}
	}

	return db, nil
}

func fetchAndParse(url string, db *OUIDB) error {
	client := &http.Client{Timeout: 60 * time.Second}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	// IEEE blocks requests without a User-Agent
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Discoveryd-OUI-Builder/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// Hex line: "00-11-22   (hex)   Manufacturer Name". MA-M/MA-S rows
		// carry extra nibbles after the base prefix ("00-55-DA-9" is a
		// 28-bit registration), so prefixes are stored as raw hex of
		// whatever width the registry assigned: 6, 7, or 9 chars.
		matches := hexLineRegex.FindStringSubmatch(line)
		if len(matches) == 6 {
			rawPrefix := matches[1] + matches[2] + matches[3]
			if extra := strings.ReplaceAll(matches[4], "-", ""); extra != "" {
				rawPrefix += extra
			}

			db.Entries[rawPrefix] = OUIEntry{
				Manufacturer: strings.TrimSpace(matches[5]),
			}
		}
	}

	return scanner.Err()
}

// Save writes the DB as gzipped tab-separated lines:
//
//	#updated	<RFC3339>
//	<PREFIX>	<Manufacturer>	<Country>
//
// The text form keeps the asset producible by the generator tool and
// diffable when the registry snapshot is refreshed.
func (db *OUIDB) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	defer zw.Close()

	if _, err := fmt.Fprintf(zw, "#updated\t%s\n", db.Updated.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	for prefix, e := range db.Entries {
		if _, err := fmt.Fprintf(zw, "%s\t%s\t%s\n", prefix, e.Manufacturer, e.Country); err != nil {
			return err
		}
	}
	return nil
}

// LoadCompactDB loads the DB from a gzipped file/stream
func LoadCompactDB(r io.Reader) (*OUIDB, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	db := &OUIDB{Entries: make(map[string]OUIEntry)}
	scanner := bufio.NewScanner(zr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if fields[0] == "#updated" {
			if len(fields) >= 2 {
				if t, err := time.Parse(time.RFC3339, fields[1]); err == nil {
					db.Updated = t
				}
			}
			continue
		}
		if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		entry := OUIEntry{Manufacturer: fields[1]}
		if len(fields) == 3 {
			entry.Country = fields[2]
		}
		db.Entries[strings.ToUpper(fields[0])] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return db, nil
}
