package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"photowatch/geo"
	"photowatch/pkg/photowatch"
	"photowatch/poll"
	"photowatch/scraper"
)

const displayLayout = "02 Jan 06 15:04"

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(displayLayout)
}

func formatCoords(lat, lon float64, acc *float64) string {
	latStr, lonStr := geo.FormatDMS(lat, lon)
	s := latStr + ", " + lonStr
	if acc != nil {
		s += fmt.Sprintf(" (±%.0f m)", *acc)
	}
	return s
}

func formatReading(r *photowatch.GeoReading) string {
	if r == nil {
		return "-"
	}
	return formatCoords(r.Latitude, r.Longitude, r.AccuracyMeters)
}

func shortHash(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeHistory(w io.Writer, list []*photowatch.Observation, loc *time.Location) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No photos recorded yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tCHECKED\tHASH\tLOCATION\tPHOTO")
	for _, o := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", o.Seq, formatTime(o.ObservedAt, loc), shortHash(o.Fingerprint), formatReading(o.Location), o.SourceURL)
	}
	return tw.Flush()
}

func writeAccess(w io.Writer, events []*photowatch.AccessEvent, loc *time.Location) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No access events recorded yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tLOCATION\tSESSION")
	for _, ev := range events {
		where := "denied"
		if ev.HasLocation() {
			where = formatCoords(*ev.Latitude, *ev.Longitude, ev.AccuracyMeters)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.Seq, formatTime(ev.OccurredAt, loc), where, ev.SessionID)
	}
	return tw.Flush()
}

func writeAttempts(w io.Writer, attempts []*photowatch.CheckAttempt, loc *time.Location) error {
	if len(attempts) == 0 {
		_, err := fmt.Fprintln(w, "No checks recorded yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tCHECKED\tSTATUS\tHASH\tMS\tMESSAGE")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", a.Seq, formatTime(a.CheckedAt, loc), a.Status, shortHash(a.Fingerprint), a.DurationMs, a.Message)
	}
	return tw.Flush()
}

func writeDiffs(w io.Writer, diffs []scraper.ParamDiff) error {
	if len(diffs) == 0 {
		_, err := fmt.Fprintln(w, "Query parameters: identical")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAM\tOLD\tNEW")
	for _, d := range diffs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Key, d.Old, d.New)
	}
	return tw.Flush()
}

func writeResult(w io.Writer, res poll.Result) error {
	fmt.Fprintf(w, "%s: %s\n", res.Status, res.Message)
	if res.SourceURL != "" {
		fmt.Fprintf(w, "Photo: %s\n", res.SourceURL)
	}
	if res.Fingerprint != "" {
		fmt.Fprintf(w, "Hash: %s\n", res.Fingerprint)
	}
	if res.Notified {
		fmt.Fprintf(w, "Notified: %s\n", res.DeliveryID)
	}
	if res.NotifyError != "" {
		fmt.Fprintf(w, "Notification failed: %s\n", res.NotifyError)
	}
	if res.Degraded {
		fmt.Fprintln(w, "Degraded: storage unreachable or content fingerprinted by URL")
	}
	if len(res.QueryDiffs) > 0 {
		return writeDiffs(w, res.QueryDiffs)
	}
	return nil
}
