package catalog

// Assembly is the output of one assembler run, ready to merge.
type Assembly struct {
	Key StoreKey
	// Remote carries the GitHub-owned fields. Local fields on it are ignored.
	Remote Record
	// Local is set for submissions. Bulk refreshes leave it nil and take the
	// local fields from the stored record instead.
	Local *LocalFields
	// WikiEmpty forces has_wiki to false. Set when the wiki probe found no
	// pages or could not run.
	WikiEmpty bool
}

// MergeOptions control the provenance rules of a merge.
type MergeOptions struct {
	Mode Mode
	// UserID stamps the attribution fields in submission mode.
	UserID string
}

// MergeResult describes what a merge did to the store.
type MergeResult struct {
	Key     StoreKey
	Record  Record
	Created bool
	// FirstContribution is true when a submission stamped plugin_added_by.
	FirstContribution bool
}

// Reconcile computes the merged record for prev and a. It reports whether
// this merge is the first attributed contribution for the record.
func Reconcile(prev *Record, a Assembly, opts MergeOptions) (Record, bool) {
	rec := a.Remote.remoteOnly()
	if prev != nil {
		rec.Extra = cloneExtra(prev.Extra)
		rec.PluginAddedBy = prev.PluginAddedBy
		rec.PluginEditedBy = prev.PluginEditedBy
	}

	first := false
	switch opts.Mode {
	case ModeSingleSubmission:
		if a.Local != nil {
			rec.Categories = append(Categories(nil), a.Local.Categories...)
			rec.ScannerMapping = a.Local.ScannerMapping.Clone()
			rec.categoriesText = len(rec.Categories) == 1 && rec.Categories[0] == CategoriesUnset
		} else if prev != nil {
			rec.Categories = append(Categories(nil), prev.Categories...)
			rec.ScannerMapping = prev.ScannerMapping.Clone()
			rec.categoriesText = prev.categoriesText
		}
		if rec.PluginAddedBy == nil {
			first = true
			rec.PluginAddedBy = stringPtr(opts.UserID)
		}
		rec.PluginEditedBy = stringPtr(opts.UserID)
	default:
		if prev != nil {
			rec.Categories = append(Categories(nil), prev.Categories...)
			rec.ScannerMapping = prev.ScannerMapping.Clone()
			rec.categoriesText = prev.categoriesText
		}
	}
	if rec.ScannerMapping == nil {
		rec.ScannerMapping = DefaultScannerMapping()
	}

	if a.WikiEmpty {
		rec.HasWiki = false
	}
	rec.Name = TrimBundleSuffix(rec.Name)
	rec.FullName = TrimBundleSuffix(rec.FullName)
	return rec, first
}
