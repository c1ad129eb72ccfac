package tracker

// mergeExtended computes a device's extended sub-record for this cycle.
//
// prior is the sub-record from the current snapshot (nil when the device is
// new or never enriched). en is nil when enrichment did not run. Each half
// is replaced only when its call succeeded and returned data; otherwise the
// prior values for that half are kept.
func mergeExtended(prior *ExtendedInfo, en *Enrichment) *ExtendedInfo {
	next := prior.DeepCopy()
	if next == nil {
		next = &ExtendedInfo{}
	}

	if en != nil {
		if en.PositionOK && (en.Info.PositionTime != nil || en.Info.Position != nil) {
			next.PositionTime = clonePtr(en.Info.PositionTime)
			next.Position = clonePtr(en.Info.Position)
		}
		if en.VoltageOK && en.Info.Voltage != nil {
			next.Voltage = clonePtr(en.Info.Voltage)
			next.VoltageServerTime = clonePtr(en.Info.VoltageServerTime)
		}
	}

	if next.empty() {
		return nil
	}
	return next
}

// applyExtendedPosition makes the extended position the record's position
// when it is at least as new as the roster's. A roster position without a
// timestamp cannot be ordered and is kept.
func applyExtendedPosition(rec *DeviceRecord) {
	ext := rec.Extended
	if ext == nil || ext.Position == nil || ext.PositionTime == nil {
		return
	}
	if rec.Position != nil {
		if rec.PositionTime == nil || ext.PositionTime.Before(*rec.PositionTime) {
			return
		}
	}
	rec.Position = clonePtr(ext.Position)
	rec.PositionTime = clonePtr(ext.PositionTime)
}
