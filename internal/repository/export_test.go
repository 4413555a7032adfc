package repository

func SetPageSize(r *LedgerEntryRepository, n int) {
	r.pageSize = n
}
