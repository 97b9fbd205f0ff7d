package tilestore

import (
	"strings"

	"github.com/umpc/go-sortedmap"

	"github.com/pdok/terrapack/mapslicehelp"
	"github.com/pdok/terrapack/tilekey"
)

// Summary counts recorded statuses and lists the tiles that did not succeed.
type Summary struct {
	Total  int
	Counts map[Status]int
	// ordered by status, then key
	Failed []Entry
}

type Entry struct {
	Key    tilekey.Key
	Status Status
}

var summaryStatuses = []Status{StatusSuccess, StatusNotFound, StatusGatewayTimeout}

// Summarize reads all recorded states.
func Summarize(states StateStore) (*Summary, error) {
	all, err := states.All()
	if err != nil {
		return nil, err
	}
	statuses := make(map[tilekey.Key]Status, len(all))
	for k, st := range all {
		statuses[k] = st.Status
	}
	summary := &Summary{Total: len(all), Counts: map[Status]int{}}
	for _, status := range summaryStatuses {
		summary.Counts[status] = mapslicehelp.CountVals(statuses, status)
	}

	failed := sortedmap.New(len(all), func(x, y interface{}) bool {
		a, b := x.(Entry), y.(Entry)
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return strings.Compare(string(a.Key), string(b.Key)) < 0
	})
	for k, status := range statuses {
		if status != StatusSuccess {
			failed.Insert(k, Entry{Key: k, Status: status})
		}
	}
	for _, k := range failed.Keys() {
		summary.Failed = append(summary.Failed, failed.Map()[k].(Entry))
	}
	return summary, nil
}
