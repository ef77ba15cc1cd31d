// cmd/alphacli evaluates indicator specs offline and manages the bar store.
//
// Usage:
//
//	go run ./cmd/alphacli --db=data/bars.db --indicators=MA:5,RANK --flags=skip_nan
//	go run ./cmd/alphacli --csv=closes.csv --groups=2 --indicators=TSRANK:3
//	go run ./cmd/alphacli --db=data/bars.db --seed=bars.csv
//	go run ./cmd/alphacli --redis=localhost:6379 --watch
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/indicator"
	"alpha-engine/internal/model"
	redisstore "alpha-engine/internal/store/redis"
	sqlitestore "alpha-engine/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	tf := flag.Int("tf", 60, "Bar timeframe in seconds")
	keysStr := flag.String("keys", "", "Comma-separated instrument keys (default: all stored)")
	specStr := flag.String("indicators", "", "Indicator specs: TYPE[:N[:M]],... (default: MA:20,SLOPE:10,INTERCEPT:10,RANK,FRET:1:1)")
	flagsStr := flag.String("flags", "none", "Context flags: none, skip_nan, require_full_window")
	groups := flag.Int("groups", 1, "Number of groups for --csv input")
	csvPath := flag.String("csv", "", "Read a single column of closes from CSV instead of SQLite")
	seedPath := flag.String("seed", "", "Import bars from CSV (key,ts,open,high,low,close[,volume]) and exit")
	watch := flag.Bool("watch", false, "Print results published to Redis until interrupted")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address for --watch")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	switch {
	case *seedPath != "":
		n, err := seed(*dbPath, *seedPath, *tf)
		if err != nil {
			log.Fatalf("[alphacli] seed failed: %v", err)
		}
		fmt.Printf("imported %d bars into %s\n", n, *dbPath)
		return
	case *watch:
		if err := watchResults(ctx, *redisAddr); err != nil && ctx.Err() == nil {
			log.Fatalf("[alphacli] watch failed: %v", err)
		}
		return
	}

	flags, err := alpha.ParseFlags(*flagsStr)
	if err != nil {
		log.Fatalf("[alphacli] %v", err)
	}
	actx, err := alpha.NewContextFromFlags(flags, *groups)
	if err != nil {
		log.Fatalf("[alphacli] %v", err)
	}
	specs := indicator.ParseSpecs(*specStr)

	var frame *model.Frame
	if *csvPath != "" {
		closes, err := readCloses(*csvPath)
		if err != nil {
			log.Fatalf("[alphacli] read %s: %v", *csvPath, err)
		}
		frame = &model.Frame{Open: closes, High: closes, Low: closes, Close: closes}
	} else {
		frame, err = loadFrame(*dbPath, *tf, parseKeys(*keysStr))
		if err != nil {
			log.Fatalf("[alphacli] load frame: %v", err)
		}
	}
	if frame.Len() == 0 {
		log.Fatal("[alphacli] no data to compute")
	}

	engine := indicator.NewEngine(0, nil)
	start := time.Now()
	results, err := engine.Compute(ctx, actx, frame, specs)
	if err != nil {
		log.Fatalf("[alphacli] compute failed: %v", err)
	}
	printTable(os.Stdout, frame, results)
	fmt.Printf("\n%d indicators over %d rows (%s) in %s\n",
		len(results), frame.Len(), actx, time.Since(start).Round(time.Microsecond))
}

func parseKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func loadFrame(dbPath string, tf int, keys []string) (*model.Frame, error) {
	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	if len(keys) == 0 {
		if keys, err = reader.ListKeys(tf); err != nil {
			return nil, err
		}
	}
	return reader.ReadFrame(keys, tf, 0, 0)
}

// readCloses reads the first column of a CSV file. A header row, empty cells
// and "nan" become missing values.
func readCloses(path string) (model.Values, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out model.Values
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		cell := strings.TrimSpace(rec[0])
		if cell == "" || strings.EqualFold(cell, "nan") {
			out = append(out, math.NaN())
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// seed imports bars from CSV rows of key,ts,open,high,low,close[,volume].
// ts is unix seconds or RFC3339.
func seed(dbPath, csvPath string, tf int) (int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath})
	if err != nil {
		return 0, err
	}
	defer writer.Close()

	barCh := make(chan model.Bar, 1000)
	done := make(chan struct{})
	go func() {
		writer.Run(context.Background(), barCh)
		close(done)
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	n := 0
	var parseErr error
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErr = err
			break
		}
		b, err := parseBar(rec, tf)
		if err != nil {
			if line == 1 {
				continue // header
			}
			parseErr = fmt.Errorf("line %d: %w", line, err)
			break
		}
		barCh <- b
		n++
	}
	close(barCh)
	<-done
	return n, parseErr
}

func parseBar(rec []string, tf int) (model.Bar, error) {
	if len(rec) < 6 {
		return model.Bar{}, fmt.Errorf("want at least 6 fields, got %d", len(rec))
	}
	ts, err := parseTS(strings.TrimSpace(rec[1]))
	if err != nil {
		return model.Bar{}, err
	}
	b := model.Bar{Key: strings.TrimSpace(rec[0]), TF: tf, TS: ts}
	prices := []*int64{&b.Open, &b.High, &b.Low, &b.Close}
	for i, p := range prices {
		if *p, err = model.PriceToPaise(strings.TrimSpace(rec[2+i])); err != nil {
			return model.Bar{}, err
		}
	}
	if len(rec) > 6 {
		if b.Volume, err = strconv.ParseInt(strings.TrimSpace(rec[6]), 10, 64); err != nil {
			return model.Bar{}, err
		}
	}
	return b, nil
}

func parseTS(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func watchResults(ctx context.Context, addr string) error {
	reader, err := redisstore.NewReader(redisstore.ReaderConfig{Addr: addr})
	if err != nil {
		return err
	}
	defer reader.Close()

	out := make(chan model.IndicatorSeries, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- reader.SubscribeResults(ctx, out) }()

	fmt.Printf("watching %s on %s (Ctrl+C to stop)\n", redisstore.ResultPattern, addr)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case res := <-out:
			fmt.Printf("[%s] %s groups=%d policy=%s last=%s\n",
				res.TS.Format("15:04:05"), res.Name, res.Groups, res.Policy, lastValues(res))
		}
	}
}

func lastValues(res model.IndicatorSeries) string {
	parts := make([]string, 0, res.Groups)
	for g := 0; g < res.Groups; g++ {
		v := res.Group(g)
		if len(v) == 0 {
			continue
		}
		parts = append(parts, formatValue(v[len(v)-1]))
	}
	return strings.Join(parts, ",")
}

func formatValue(v float64) string {
	if alpha.IsMissing(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func printTable(w io.Writer, frame *model.Frame, results []model.IndicatorSeries) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	defer tw.Flush()

	header := []string{"group", "row", "close"}
	for _, r := range results {
		header = append(header, r.Name)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	groups := frame.Groups()
	if len(frame.Keys) == 0 && len(results) > 0 {
		groups = results[0].Groups
	}
	size := frame.Len() / groups
	if size == 0 {
		return
	}
	for i := 0; i < frame.Len(); i++ {
		g := strconv.Itoa(i / size)
		if len(frame.Keys) > 0 {
			g = frame.Keys[i/size]
		}
		row := []string{g, strconv.Itoa(i % size), formatValue(frame.Close[i])}
		for _, r := range results {
			row = append(row, formatValue(r.Values[i]))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
}
