// Package samheader merges several SAM/BAM headers into one, resolving
// read-group and program-group id collisions and reconciling sequence
// dictionaries, per spec §4.F. It builds on hts/sam's own
// AddReference/AddReadGroup/AddProgram and ReadGroup/Program Clone machinery rather than
// reimplementing header bookkeeping from scratch.
package samheader

import (
	"fmt"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/sam"
)

var idTag = sam.NewTag("ID")

// MergedHeader is spec §3's MergedHeader: a combined header plus, per
// input, a translation table from that input's read-group and
// program-group ids to the ids they were given in the merged header.
type MergedHeader struct {
	Header *sam.Header

	// ReadGroupRemap[i][oldID] is the id read group oldID from input i was
	// given in Header; absent entries mean no remapping was needed.
	ReadGroupRemap []map[string]string
	// ProgramRemap[i][oldUID] is the id program oldUID from input i was
	// given in Header.
	ProgramRemap []map[string]string

	HasCollisions       bool
	HasMergedDictionary bool
}

// Merge combines headers into one MergedHeader. If mergeDictionaries is
// false, every header's sequence dictionary must match the first's
// exactly (same names, lengths, and order); otherwise dictionaries are
// merged by name, preserving a total order consistent with every input.
func Merge(headers []*sam.Header, mergeDictionaries bool) (*MergedHeader, error) {
	if len(headers) == 0 {
		return nil, fault.Errorf(fault.ContractViolation, "samheader: no headers to merge")
	}
	merged, err := sam.NewHeader(nil, nil)
	if err != nil {
		return nil, fault.Errorf(fault.ContractViolation, "samheader: %v", err)
	}

	mh := &MergedHeader{
		Header:         merged,
		ReadGroupRemap: make([]map[string]string, len(headers)),
		ProgramRemap:   make([]map[string]string, len(headers)),
	}

	refs, mergedDict, err := reconcileDictionary(headers, mergeDictionaries)
	if err != nil {
		return nil, err
	}
	mh.HasMergedDictionary = mergedDict
	for _, r := range refs {
		if err := merged.AddReference(r); err != nil {
			return nil, fault.Errorf(fault.ContractViolation, "samheader: adding reference %s: %v", r.Name(), err)
		}
	}

	existingRG := map[string]*sam.ReadGroup{}
	for i, h := range headers {
		mh.ReadGroupRemap[i] = map[string]string{}
		for _, rg := range h.RGs() {
			newID, err := mh.mergeReadGroup(existingRG, rg)
			if err != nil {
				return nil, err
			}
			mh.ReadGroupRemap[i][rg.Name()] = newID
		}
	}

	existingPG := map[string]*sam.Program{}
	for i, h := range headers {
		mh.ProgramRemap[i] = map[string]string{}
		for _, pg := range h.Progs() {
			newUID, err := mh.mergeProgram(existingPG, pg)
			if err != nil {
				return nil, err
			}
			mh.ProgramRemap[i][pg.UID()] = newUID
		}
	}

	return mh, nil
}

func (mh *MergedHeader) mergeReadGroup(existing map[string]*sam.ReadGroup, rg *sam.ReadGroup) (string, error) {
	name := rg.Name()
	if prior, ok := existing[name]; ok {
		if prior.String() == rg.String() {
			return name, nil
		}
		mh.HasCollisions = true
		newName := freshID(name, func(candidate string) bool {
			_, taken := existing[candidate]
			return taken
		})
		renamed := rg.Clone()
		if err := renamed.Set(idTag, newName); err != nil {
			return "", fault.Errorf(fault.ContractViolation, "samheader: renaming read group %s: %v", name, err)
		}
		if err := mh.Header.AddReadGroup(renamed); err != nil {
			return "", fault.Errorf(fault.ContractViolation, "samheader: adding read group %s: %v", newName, err)
		}
		existing[newName] = renamed
		return newName, nil
	}
	added := rg.Clone()
	if err := mh.Header.AddReadGroup(added); err != nil {
		return "", fault.Errorf(fault.ContractViolation, "samheader: adding read group %s: %v", name, err)
	}
	existing[name] = added
	return name, nil
}

func (mh *MergedHeader) mergeProgram(existing map[string]*sam.Program, pg *sam.Program) (string, error) {
	uid := pg.UID()
	if prior, ok := existing[uid]; ok {
		if prior.String() == pg.String() {
			return uid, nil
		}
		mh.HasCollisions = true
		newUID := freshID(uid, func(candidate string) bool {
			_, taken := existing[candidate]
			return taken
		})
		renamed := pg.Clone()
		if err := renamed.SetUID(newUID); err != nil {
			return "", fault.Errorf(fault.ContractViolation, "samheader: renaming program %s: %v", uid, err)
		}
		if err := mh.Header.AddProgram(renamed); err != nil {
			return "", fault.Errorf(fault.ContractViolation, "samheader: adding program %s: %v", newUID, err)
		}
		existing[newUID] = renamed
		return newUID, nil
	}
	added := pg.Clone()
	if err := mh.Header.AddProgram(added); err != nil {
		return "", fault.Errorf(fault.ContractViolation, "samheader: adding program %s: %v", uid, err)
	}
	existing[uid] = added
	return uid, nil
}

// freshID appends an incrementing numeric suffix to base until taken
// reports the candidate as free.
func freshID(base string, taken func(string) bool) string {
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}
