package cli

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/driftwatch/internal/iris"
)

// runQuery starts an engine, resolves one query, and prints the answer.
func runQuery(q iris.Query, asJSON bool) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	resp, err := eng.Resolver().Resolve(q)
	if err != nil {
		return err
	}
	if asJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Print(iris.Format(resp))
	return nil
}
