// Command shape-report writes PNG plots and a JSON summary for a stored
// shape model. The model is read from the database, or fetched from a
// running server's gRPC Solver service with -grpc.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/fsutil"
	"github.com/banshee-data/shapemodel/internal/report"
	"github.com/banshee-data/shapemodel/internal/rpcserver"
	"github.com/banshee-data/shapemodel/internal/security"
	"github.com/banshee-data/shapemodel/internal/ssm"
)

// Config holds the tool's settings.
type Config struct {
	ModelID  string
	DBPath   string
	GRPCAddr string
	OutDir   string
	Samples  int
	Seed     int64
	Timeout  time.Duration
}

// source supplies the pieces of a report for one model.
type source interface {
	Spectrum(ctx context.Context) (report.Spectrum, error)
	MeanShape(ctx context.Context) ([]float64, error)
	SampleShape(ctx context.Context, seed int64) ([]float64, error)
	LandmarkPoints() []int
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ModelID, "model", "", "Model id to report on (required)")
	flag.StringVar(&cfg.DBPath, "db", "shapemodel.db", "SQLite database holding the model")
	flag.StringVar(&cfg.GRPCAddr, "grpc", "", "Fetch the model from this gRPC address instead of the database")
	flag.StringVar(&cfg.OutDir, "out", "", "Output directory (default <model name>-report)")
	flag.IntVar(&cfg.Samples, "samples", 0, "Number of random sample shapes to plot")
	flag.Int64Var(&cfg.Seed, "seed", 1, "Seed of the first random sample")
	flag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	if cfg.ModelID == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var src source
	if cfg.GRPCAddr != "" {
		client, conn, err := rpcserver.Dial(cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer conn.Close()
		src = &grpcSource{client: client, id: cfg.ModelID}
	} else {
		database, err := db.NewDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
		s, err := newDBSource(database, cfg.ModelID)
		if err != nil {
			log.Fatalf("%v", err)
		}
		src = s
	}

	summary, files, err := run(ctx, cfg, src, fsutil.OSFileSystem{})
	if err != nil {
		log.Fatalf("report failed: %v", err)
	}
	printSummary(summary)
	for _, f := range files {
		fmt.Printf("  wrote %s\n", f)
	}
}

// run renders the report for src into cfg.OutDir.
func run(ctx context.Context, cfg Config, src source, fsys fsutil.FileSystem) (report.Summary, []string, error) {
	spectrum, err := src.Spectrum(ctx)
	if err != nil {
		return report.Summary{}, nil, err
	}
	outDir := cfg.OutDir
	if outDir == "" {
		outDir = security.SanitizeFilename(spectrum.Name) + "-report"
	}
	w := report.NewWriter(fsys)
	files, err := w.WriteSpectrum(outDir, spectrum)
	if err != nil {
		return report.Summary{}, nil, err
	}

	mean, err := src.MeanShape(ctx)
	if err != nil {
		return report.Summary{}, nil, err
	}
	out, err := w.WriteShape(outDir, "mean", mean, src.LandmarkPoints())
	if err != nil {
		return report.Summary{}, nil, err
	}
	files = append(files, out)

	for i := 0; i < cfg.Samples; i++ {
		seed := cfg.Seed + int64(i)
		shape, err := src.SampleShape(ctx, seed)
		if err != nil {
			return report.Summary{}, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out, err := w.WriteShape(outDir, fmt.Sprintf("samples/sample-%03d", i), shape, nil)
		if err != nil {
			return report.Summary{}, nil, err
		}
		files = append(files, out)
	}

	return report.Summary{
		Spectrum:   spectrum,
		Modes:      len(spectrum.Variance),
		ModesFor90: report.ModesFor(spectrum.Cumulative, 0.90),
		ModesFor95: report.ModesFor(spectrum.Cumulative, 0.95),
		ModesFor99: report.ModesFor(spectrum.Cumulative, 0.99),
	}, files, nil
}

func printSummary(s report.Summary) {
	fmt.Printf("%s: %d points, %d modes\n", s.Name, s.PointCount, s.Modes)
	fmt.Printf("  modes for 90%%: %d, 95%%: %d, 99%%: %d\n", s.ModesFor90, s.ModesFor95, s.ModesFor99)
	n := len(s.Explained)
	if n > 10 {
		n = 10
	}
	for i := 0; i < n; i++ {
		fmt.Printf("  mode %2d  var=%10.4g  %5.1f%%  cum %5.1f%%\n",
			i+1, s.Variance[i], 100*s.Explained[i], 100*s.Cumulative[i])
	}
}

type dbSource struct {
	name      string
	model     *ssm.ShapeModel
	landmarks []int
}

func newDBSource(database *db.DB, id string) (*dbSource, error) {
	model, rec, err := database.LoadModel(id)
	if err != nil {
		return nil, err
	}
	landmarks, err := database.Landmarks(id)
	if err != nil {
		return nil, err
	}
	points := make([]int, len(landmarks))
	for i, l := range landmarks {
		points[i] = l.PointIndex
	}
	return &dbSource{name: rec.Name, model: model, landmarks: points}, nil
}

func (s *dbSource) Spectrum(context.Context) (report.Spectrum, error) {
	return report.SpectrumFromModel(s.name, s.model), nil
}

func (s *dbSource) MeanShape(context.Context) ([]float64, error) { return s.model.Mean(), nil }

func (s *dbSource) SampleShape(_ context.Context, seed int64) ([]float64, error) {
	alpha := ssm.GenerateCoefficients(s.model, ssm.Random, rand.New(rand.NewSource(seed)))
	return ssm.Evaluate(s.model, alpha)
}

func (s *dbSource) LandmarkPoints() []int { return s.landmarks }

// grpcSource reads through the Solver service. Landmarks are not exposed
// there, so the mean plot has no highlighted points.
type grpcSource struct {
	client *rpcserver.Client
	id     string
	modes  int
}

func (s *grpcSource) Spectrum(ctx context.Context) (report.Spectrum, error) {
	info, err := s.client.ModelInfo(ctx, s.id)
	if err != nil {
		return report.Spectrum{}, err
	}
	s.modes = info.ModeCount
	return report.Spectrum{
		Name:       info.ModelID,
		PointCount: info.PointCount,
		Variance:   info.Variance,
		Explained:  info.ExplainedVariance,
		Cumulative: info.Cumulative,
	}, nil
}

func (s *grpcSource) MeanShape(ctx context.Context) ([]float64, error) {
	res, err := s.client.Evaluate(ctx, s.id, make([]float64, s.modes))
	if err != nil {
		return nil, err
	}
	return res.Shape, nil
}

func (s *grpcSource) SampleShape(ctx context.Context, seed int64) ([]float64, error) {
	res, err := s.client.Sample(ctx, s.id, ssm.Random.String(), seed)
	if err != nil {
		return nil, err
	}
	return res.Shape, nil
}

func (s *grpcSource) LandmarkPoints() []int { return nil }
