/*
main.go - Application entry point

PURPOSE:
  Runs the pokerledger command line. See cli/ for the commands.

EXAMPLES:
  # Serve with defaults (SQLite file ledger.db, port 8080)
  pokerledger serve

  # Serve with a config file and the demo scenarios
  pokerledger serve -c config.yaml --scenarios

  # Create the Postgres schema
  pokerledger migrate -c config.yaml

  # Settle a snapshot offline
  pokerledger settle -f friday.json
*/
package main

import "github.com/warp/cashgame-ledger/cli"

func main() {
	cli.Execute()
}
