package partition

// SlotTable maps hash slots to the IDs of the nodes that own them. The table is rebuilt as a
// whole on every committed membership change, never patched in place, so two members that applied
// the same change hold identical tables.
type SlotTable struct {
	SlotCount int
	// Owner node ID per slot, len == SlotCount
	Owners []uint
}

// Rebuild assigns all slots round-robin across the given node IDs. The node ID slice must be
// sorted by the caller so every member computes the same assignment.
func Rebuild(nodeIds []uint, slotCount int) SlotTable {
	table := SlotTable{
		SlotCount: slotCount,
		Owners:    make([]uint, slotCount),
	}

	if len(nodeIds) == 0 {
		return table
	}

	for slot := 0; slot < slotCount; slot++ {
		table.Owners[slot] = nodeIds[slot%len(nodeIds)]
	}

	return table
}

// SlotOf hashes a storage group name and a time-partition number onto a slot.
func (table SlotTable) SlotOf(storageGroup string, timePartition int64, salt int64) int {
	if table.SlotCount == 0 {
		return 0
	}

	hash := uint64(salt)
	for _, b := range []byte(storageGroup) {
		hash = hash*31 + uint64(b)
	}
	hash = hash*31 + uint64(timePartition)

	return int(hash % uint64(table.SlotCount))
}

// OwnerOf returns the node ID owning the slot of the given storage group and time partition.
func (table SlotTable) OwnerOf(storageGroup string, timePartition int64, salt int64) uint {
	if len(table.Owners) == 0 {
		return 0
	}
	return table.Owners[table.SlotOf(storageGroup, timePartition, salt)]
}
