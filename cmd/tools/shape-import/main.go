// Command shape-import stores a shape model from a JSON document of plain
// arrays, either directly in the database or through a running server.
//
// The document holds "name", "mean", "basis", "rows", "cols", "variance"
// and an optional "landmarks" list of {name, point_index, position}.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/fsutil"
	"github.com/banshee-data/shapemodel/internal/httputil"
	"github.com/banshee-data/shapemodel/internal/ssm"
)

// Model documents are read whole; 256 MiB covers dense bases of ~10k
// points and 100+ modes.
const maxDocumentBytes = 256 << 20

// Config holds the tool's settings.
type Config struct {
	Input     string
	Name      string
	DBPath    string
	ServerURL string
	Layout    string // "row" (3N × K, row-major) or "col" (K × 3N, mode-major)
	Timeout   time.Duration
}

// document is the JSON input format.
type document struct {
	Name string `json:"name"`
	ssm.ModelData
	Landmarks []db.Landmark `json:"landmarks,omitempty"`
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.Input, "in", "", "Model JSON document to import (required)")
	flag.StringVar(&cfg.Name, "name", "", "Model name (overrides the document's name)")
	flag.StringVar(&cfg.DBPath, "db", "shapemodel.db", "SQLite database to import into")
	flag.StringVar(&cfg.ServerURL, "server", "", "Import through a running server at this base URL instead of the database")
	flag.StringVar(&cfg.Layout, "layout", "row", "Basis layout in the document: row (3N×K) or col (K×3N)")
	flag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Request timeout when importing through a server")
	flag.Parse()

	if cfg.Input == "" {
		flag.Usage()
		os.Exit(2)
	}

	id, err := run(context.Background(), cfg, fsutil.OSFileSystem{}, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
	fmt.Println(id)
}

// run imports cfg.Input and returns the new model id.
func run(ctx context.Context, cfg Config, fsys fsutil.FileSystem, client httputil.HTTPClient) (string, error) {
	doc, err := readDocument(fsys, cfg.Input, cfg.Layout)
	if err != nil {
		return "", err
	}
	if cfg.Name != "" {
		doc.Name = cfg.Name
	}
	if doc.Name == "" {
		return "", fmt.Errorf("%s: model name is required (set \"name\" or -name)", cfg.Input)
	}

	// Validate locally so a bad document fails before touching the target.
	model, err := ssm.LoadData(doc.ModelData)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cfg.Input, err)
	}
	for _, l := range doc.Landmarks {
		if l.Name == "" || l.PointIndex < 0 || l.PointIndex >= model.PointCount() {
			return "", fmt.Errorf("%s: invalid landmark %q at point %d (model has %d points)",
				cfg.Input, l.Name, l.PointIndex, model.PointCount())
		}
	}

	if cfg.ServerURL != "" {
		var rec db.ModelRecord
		url := strings.TrimRight(cfg.ServerURL, "/") + "/api/models"
		if err := httputil.PostJSON(ctx, client, url, doc, &rec); err != nil {
			return "", err
		}
		log.Printf("imported %q as %s via %s (%d points, %d modes)", doc.Name, rec.ID, cfg.ServerURL, rec.PointCount, rec.ModeCount)
		return rec.ID, nil
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return "", err
	}
	defer database.Close()

	rec, err := database.SaveModel(doc.Name, model)
	if err != nil {
		return "", err
	}
	if len(doc.Landmarks) > 0 {
		if err := database.SaveLandmarks(rec.ID, doc.Landmarks); err != nil {
			return "", err
		}
	}
	log.Printf("imported %q as %s into %s (%d points, %d modes, %d landmarks)",
		doc.Name, rec.ID, cfg.DBPath, rec.PointCount, rec.ModeCount, len(doc.Landmarks))
	return rec.ID, nil
}

func readDocument(fsys fsutil.FileSystem, path, layout string) (*document, error) {
	data, err := fsutil.ReadLimited(fsys, path, maxDocumentBytes)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	switch layout {
	case "row", "":
	case "col":
		// Document rows/cols describe the stored K × 3N matrix.
		doc.Basis, doc.Rows, doc.Cols = transpose(doc.Basis, doc.Rows, doc.Cols)
	default:
		return nil, fmt.Errorf("unknown layout %q (want row or col)", layout)
	}
	return &doc, nil
}

// transpose returns the row-major transpose of a rows × cols matrix. Data
// whose length does not match is returned unchanged for ssm.Load to reject.
func transpose(data []float64, rows, cols int) ([]float64, int, int) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return data, rows, cols
	}
	out := make([]float64, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return out, cols, rows
}
