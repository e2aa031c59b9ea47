// Example: running the coordinator emulator in-process
//
// This example starts the emulated Presto coordinator on an httptest server and
// drives it with the polling client, so no external process is needed. This is
// the setup the package tests use.
//
// Run this example:
//
//	go run ./example/embedded
package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/nnnkkk7/presto-page/pkg/client"
	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/connection"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/nnnkkk7/presto-page/pkg/query"
	"github.com/nnnkkk7/presto-page/server/handlers"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	fmt.Println("=== Presto Page Embedded Example ===")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	connMgr, err := connection.Open(ctx, config.DefaultDBPath)
	if err != nil {
		log.Fatalf("Failed to open DuckDB: %v", err)
	}
	defer connMgr.Close()

	stmtMgr := query.NewStatementManager(query.NewExecutor(connMgr, log), time.Hour, query.WithLogger(log))
	defer stmtMgr.Close()

	// Small pages so the client has to follow nextUri a few times.
	h := handlers.NewStatementHandler(stmtMgr, config.ServerConfig{PageSize: 2}, log)
	server := httptest.NewServer(handlers.NewRouter(h, log))
	defer server.Close()

	fmt.Printf("Embedded coordinator running at: %s\n", server.URL)

	c, err := client.New(config.Client{ServerURL: server.URL, User: "example"}, client.WithLogger(log))
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	fmt.Println("\n1. Creating table 'employees'...")
	run(ctx, c, log, `
		CREATE TABLE employees (
			id INTEGER,
			name VARCHAR,
			department VARCHAR,
			salary DECIMAL(10,2),
			hire_date DATE
		)`)

	fmt.Println("\n2. Inserting test data...")
	res := run(ctx, c, log, `
		INSERT INTO employees VALUES
		(1, 'Alice Johnson', 'Engineering', 95000.00, '2022-01-15'),
		(2, 'Bob Smith', 'Engineering', 85000.00, '2022-03-20'),
		(3, 'Charlie Brown', 'Sales', 75000.00, '2021-06-10'),
		(4, 'Diana Ross', 'Marketing', 80000.00, '2023-02-01'),
		(5, 'Eve Wilson', 'Engineering', 105000.00, '2020-11-30')`)
	fmt.Printf("   %s: %d rows\n", res.UpdateType, res.UpdateCount)

	fmt.Println("\n3. Department summary (APPROX_DISTINCT, ARBITRARY)")
	printResult(run(ctx, c, log, `
		SELECT
			department,
			count(*) AS headcount,
			approx_distinct(name) AS distinct_names,
			arbitrary(name) AS someone
		FROM employees
		GROUP BY department
		ORDER BY headcount DESC, department`))

	fmt.Println("\n4. Name search (STRPOS)")
	printResult(run(ctx, c, log, `
		SELECT name, strpos(name, 'o') AS first_o
		FROM employees
		WHERE strpos(name, 'o') > 0
		ORDER BY id`))

	fmt.Println("\n5. Every employee, paged two rows at a time")
	q, err := c.Submit(ctx, "SELECT id, name, hire_date FROM employees ORDER BY id")
	if err != nil {
		log.Fatalf("Submit failed: %v", err)
	}
	for row, err := range q.Rows(ctx, page.ModeRecord) {
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("   page %d: %s\n", q.Pages(), row.Fields)
	}

	fmt.Println("\n=== Example completed successfully! ===")
}

func run(ctx context.Context, c *client.Client, log *logrus.Logger, sql string) *client.Result {
	res, err := c.Query(ctx, sql, page.ModeRecord)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	return res
}

func printResult(res *client.Result) {
	names := page.ColumnNames(res.Columns)
	fmt.Printf("   %s\n", strings.Join(names, " | "))
	for _, row := range res.Rows {
		values := make([]string, len(row.Fields))
		for i, f := range row.Fields {
			if f.Value == nil {
				values[i] = "NULL"
				continue
			}
			values[i] = fmt.Sprint(f.Value)
		}
		fmt.Printf("   %s\n", strings.Join(values, " | "))
	}
}
