// Command marketpipe collects Wisconsin market datasets into BigQuery and
// serves the pipeline API.
package main

import "github.com/badgerdata/marketpipe/cmd"

func main() {
	cmd.Execute()
}
