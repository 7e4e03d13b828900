// Package logparse turns training logs into score-over-time series.
//
// A log starts with a fixed-size header block, followed by one delimited
// row per evaluation. One field holds the wall-clock timestamp, another a
// whitespace separated sub-record whose third token is the score, e.g.
//
//	2019-06-01 10:00:00,123 : Time 00h 00m 26s, episode reward 90.0, episode length 734, reward mean 90.0000
package logparse

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"

	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

const (
	DefaultSkipRows   = 19
	DefaultTimeCol    = 0
	DefaultScoreCol   = 4
	DefaultScoreToken = 2
	DefaultDelimiter  = ','
	DefaultStride     = 1
	DefaultGlob       = "*_log"
)

type Options struct {
	SkipRows   int
	TimeCol    int
	ScoreCol   int
	ScoreToken int
	Delimiter  rune
	// Stride subsamples data rows: the first row is always kept, then
	// rows 1, 1+Stride, 1+2*Stride and so on. Values below 1 mean 1.
	Stride int
	// Location is used for timestamps without a zone. Defaults to UTC.
	Location *time.Location
}

func DefaultOptions() Options {
	return Options{
		SkipRows:   DefaultSkipRows,
		TimeCol:    DefaultTimeCol,
		ScoreCol:   DefaultScoreCol,
		ScoreToken: DefaultScoreToken,
		Delimiter:  DefaultDelimiter,
		Stride:     DefaultStride,
	}
}

// ParseError reports a missing, truncated or malformed log.
type ParseError struct {
	Path  string
	Line  int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return describe("parse", e.Path, e.Line, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FormatError reports a timestamp that cannot be placed on the time axis.
type FormatError struct {
	Path  string
	Line  int
	Field string
	Value string
	Err   error
}

func (e *FormatError) Error() string {
	return describe("format", e.Path, e.Line, e.Field, errors.Wrapf(e.Err, "value %q", e.Value))
}

func (e *FormatError) Unwrap() error { return e.Err }

func describe(kind, path string, line int, field string, err error) string {
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteString(" error: ")
	sb.WriteString(path)
	if line > 0 {
		fmt.Fprintf(&sb, ":%d", line)
	}
	if field != "" {
		fmt.Fprintf(&sb, " (%s)", field)
	}
	if err != nil {
		sb.WriteString(": ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Parse reads the log at path.
func Parse(path string, opts Options) (series.TimeSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return series.TimeSeries{}, &ParseError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	return ParseReader(path, f, opts)
}

// ParseReader parses a log from r; name is used for the series name and
// in diagnostics.
func ParseReader(name string, r io.Reader, opts Options) (series.TimeSeries, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.Stride < 1 {
		opts.Stride = DefaultStride
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	out := series.TimeSeries{Name: name}
	var origin time.Time

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo, row := 0, -1
	for scanner.Scan() {
		lineNo++
		if lineNo <= opts.SkipRows {
			continue
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		row++
		if row > 0 && (row-1)%opts.Stride != 0 {
			continue
		}

		fields, err := splitRow(line, opts.Delimiter)
		if err != nil {
			return series.TimeSeries{}, &ParseError{Path: name, Line: lineNo, Err: err}
		}
		rawTime, err := column(fields, opts.TimeCol, name, lineNo, "time")
		if err != nil {
			return series.TimeSeries{}, err
		}
		rawScore, err := column(fields, opts.ScoreCol, name, lineNo, "score")
		if err != nil {
			return series.TimeSeries{}, err
		}

		score, err := parseScore(rawScore, opts.ScoreToken)
		if err != nil {
			return series.TimeSeries{}, &ParseError{Path: name, Line: lineNo, Field: fieldName("score", opts.ScoreCol), Err: err}
		}
		ts, err := dateparse.ParseIn(strings.TrimSpace(rawTime), loc)
		if err != nil {
			return series.TimeSeries{}, &FormatError{Path: name, Line: lineNo, Field: fieldName("time", opts.TimeCol), Value: rawTime, Err: err}
		}

		if len(out.TimePoints) == 0 {
			origin = ts
			out.TimePoints = append(out.TimePoints, 0)
			out.Scores = append(out.Scores, score)
			continue
		}
		elapsed := ts.Sub(origin)
		if elapsed < 0 {
			return series.TimeSeries{}, &FormatError{
				Path:  name,
				Line:  lineNo,
				Field: fieldName("time", opts.TimeCol),
				Value: rawTime,
				Err:   errors.Errorf("timestamp is %s before the first row", -elapsed),
			}
		}
		minutes := math.Floor(elapsed.Seconds() / 60)
		if prev := out.TimePoints[len(out.TimePoints)-1]; minutes < prev {
			return series.TimeSeries{}, &FormatError{
				Path:  name,
				Line:  lineNo,
				Field: fieldName("time", opts.TimeCol),
				Value: rawTime,
				Err:   errors.Errorf("timestamp goes back to minute %v after minute %v", minutes, prev),
			}
		}
		out.TimePoints = append(out.TimePoints, minutes)
		out.Scores = append(out.Scores, score)
	}
	if err := scanner.Err(); err != nil {
		return series.TimeSeries{}, &ParseError{Path: name, Line: lineNo, Err: err}
	}
	if lineNo < opts.SkipRows {
		return series.TimeSeries{}, &ParseError{
			Path: name,
			Err:  errors.Errorf("only %d lines, expected a %d line header", lineNo, opts.SkipRows),
		}
	}
	if len(out.Scores) == 0 {
		return series.TimeSeries{}, &ParseError{Path: name, Err: errors.New("no data rows after the header")}
	}
	return out, nil
}

func splitRow(line string, delimiter rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "split row")
	}
	return fields, nil
}

func column(fields []string, idx int, path string, line int, what string) (string, error) {
	if idx < 0 || idx >= len(fields) {
		return "", &ParseError{
			Path:  path,
			Line:  line,
			Field: fieldName(what, idx),
			Err:   errors.Errorf("row has %d fields", len(fields)),
		}
	}
	return fields[idx], nil
}

func parseScore(raw string, token int) (float64, error) {
	tokens := strings.Fields(raw)
	if token < 0 || token >= len(tokens) {
		return 0, errors.Errorf("sub-record %q has %d tokens, need at least %d", raw, len(tokens), token+1)
	}
	v, err := strconv.ParseFloat(tokens[token], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "token %d of %q", token, raw)
	}
	return v, nil
}

func fieldName(what string, idx int) string {
	return fmt.Sprintf("%s column %d", what, idx)
}

// Discover returns the files in dir matching pattern, sorted by path.
func Discover(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultGlob
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &ParseError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &ParseError{Path: dir, Err: errors.New("not a directory")}
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "glob %q", pattern)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		paths = append(paths, m)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, &ParseError{Path: dir, Err: errors.Errorf("no logs matching %q", pattern)}
	}
	return paths, nil
}
