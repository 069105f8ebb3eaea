package ledger

import "os"

// resetLedgerDir removes any prior ledger at path, so Open starts clean
// (spec §6 "ledger.reset=true wipes prior ledger").
func resetLedgerDir(path string) error {
	return os.RemoveAll(path)
}
