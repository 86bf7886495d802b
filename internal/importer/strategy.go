package importer

// Write strategies.
const (
	StrategyAppend  = "append"
	StrategyUpsert  = "upsert"
	StrategyReplace = "replace"
)

// SelectStrategy picks a write strategy when the caller did not choose one.
//
// A meaningful duplicate overlap with a usable key means the file is a
// refresh of existing rows: upsert. The same overlap without a usable key
// on a file at least sizeRatio of the table means a full re-export:
// replace. Everything else appends.
func SelectStrategy(dupRatio float64, incomingRows, existingRows int, hasUsableKey bool, dupThreshold, sizeRatio float64) string {
	if dupRatio < dupThreshold {
		return StrategyAppend
	}
	if hasUsableKey {
		return StrategyUpsert
	}
	if existingRows > 0 && float64(incomingRows) >= float64(existingRows)*sizeRatio {
		return StrategyReplace
	}
	return StrategyAppend
}
