package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NpcTemplate holds static data for an NPC type loaded from YAML.
type NpcTemplate struct {
	NpcID        int32  `yaml:"npc_id"`
	Name         string `yaml:"name"`
	Level        int16  `yaml:"level"`
	HP           int32  `yaml:"hp"`
	Agro         bool   `yaml:"agro"`
	AgroRange    int32  `yaml:"agro_range"`    // tiles; 0 uses the world default
	ChaseRange   int32  `yaml:"chase_range"`   // tiles; 0 uses the world default
	PassiveSpeed int16  `yaml:"passive_speed"` // ticks between wander steps, 0 = never wander
	Script       string `yaml:"script"`        // optional Lua think function
}

// SpawnEntry defines where and how many NPCs to spawn.
type SpawnEntry struct {
	NpcID        int32 `yaml:"npc_id"`
	MapID        int16 `yaml:"map_id"`
	X            int32 `yaml:"x"`
	Y            int32 `yaml:"y"`
	Count        int   `yaml:"count"`
	RandomX      int32 `yaml:"randomx"` // spawn scatter and wander radius
	RandomY      int32 `yaml:"randomy"`
	RespawnDelay int   `yaml:"respawn_delay"` // seconds
}

type npcListFile struct {
	Npcs []NpcTemplate `yaml:"npcs"`
}

type spawnListFile struct {
	Spawns []SpawnEntry `yaml:"spawns"`
}

// NpcTable holds all NPC templates indexed by NpcID.
type NpcTable struct {
	templates map[int32]*NpcTemplate
}

// LoadNpcTable loads NPC templates from a YAML file.
func LoadNpcTable(path string) (*NpcTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read npc_list: %w", err)
	}
	var f npcListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse npc_list: %w", err)
	}
	t := &NpcTable{templates: make(map[int32]*NpcTemplate, len(f.Npcs))}
	for i := range f.Npcs {
		npc := &f.Npcs[i]
		if _, dup := t.templates[npc.NpcID]; dup {
			return nil, fmt.Errorf("parse npc_list: duplicate npc_id %d", npc.NpcID)
		}
		t.templates[npc.NpcID] = npc
	}
	return t, nil
}

// Get returns an NPC template by ID, or nil if not found.
func (t *NpcTable) Get(npcID int32) *NpcTemplate {
	return t.templates[npcID]
}

// Count returns the number of loaded templates.
func (t *NpcTable) Count() int {
	return len(t.templates)
}

// LoadSpawnList loads spawn entries from a YAML file. Entries with a
// non-positive count are dropped.
func LoadSpawnList(path string) ([]SpawnEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn_list: %w", err)
	}
	var f spawnListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse spawn_list: %w", err)
	}
	spawns := f.Spawns[:0]
	for _, s := range f.Spawns {
		if s.Count > 0 {
			spawns = append(spawns, s)
		}
	}
	return spawns, nil
}
