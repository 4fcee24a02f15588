package model

// Operator kinds with a dedicated explanation.
const (
	KindSeqScan       = "Seq Scan"
	KindIndexScan     = "Index Scan"
	KindIndexOnlyScan = "Index Only Scan"
	KindHash          = "Hash"
	KindHashJoin      = "Hash Join"
	KindMergeJoin     = "Merge Join"
	KindNestedLoop    = "Nested Loop"
	KindSort          = "Sort"
	KindGather        = "Gather"
)
