// Example: walking the statement protocol by hand
//
// This example talks to a running coordinator with plain HTTP requests and uses
// only the page parser: it posts a statement, follows nextUri until the chain
// ends and prints what every page carried.
//
// Start the emulator:
//
//	go run ./cmd/server
//
// Then run this example:
//
//	go run ./example/protocol
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/sirupsen/logrus"
)

func main() {
	server := os.Getenv("PRESTO_SERVER")
	if server == "" {
		server = config.DefaultServerURL
	}

	fmt.Println("=== Presto Statement Protocol Example ===")

	p, err := fetch(http.MethodPost, server+config.StatementPath,
		"SELECT range AS n, range * range AS square FROM range(7)")
	if err != nil {
		logrus.Fatalf("Submit failed: %v", err)
	}

	for n := 1; ; n++ {
		state := ""
		if stats := p.Stats(); stats != nil {
			state = stats.State
		}
		fmt.Printf("\npage %d: id=%s state=%s rows=%d\n", n, p.ID(), state, p.RowCount())

		for row, err := range p.Rows(page.ModeRecord) {
			if err != nil {
				logrus.Fatalf("Bad page: %v", err)
			}
			if row.Empty() {
				fmt.Println("   (no rows)")
				continue
			}
			fmt.Printf("   %s\n", row.Fields)
		}

		if qe := p.QueryError(); qe != nil {
			logrus.Fatalf("Query failed: %v", qe)
		}
		next, ok := p.NextURI()
		if !ok {
			break
		}
		if p, err = fetch(http.MethodGet, next, ""); err != nil {
			logrus.Fatalf("Fetch failed: %v", err)
		}
	}

	fmt.Println("\n=== Example completed successfully! ===")
}

func fetch(method, target, body string) (*page.ResultPage, error) {
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(config.HeaderUser.String(), "example")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %s: %s", method, target, resp.Status, raw)
	}
	return page.Parse(raw)
}
