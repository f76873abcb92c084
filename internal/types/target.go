// Package types provides type definitions for structured data used throughout the genome-harvester system.
package types

// TargetKind classifies what catalog a fetch target belongs to.
type TargetKind string

const (
	// TargetAssembly identifies an assembly-catalog accession (GCF_/GCA_ prefixes).
	TargetAssembly TargetKind = "assembly"
	// TargetNucleotide identifies a nucleotide-catalog accession (NC_, NZ_, CP..., etc.).
	TargetNucleotide TargetKind = "nucleotide"
	// TargetUnresolved marks an input token whose prefix matched no known catalog.
	// Unresolved targets are reported as per-item errors, never silently dropped.
	TargetUnresolved TargetKind = "unresolved"
)

// SourcePreference expresses whether RefSeq (curated) or GenBank (submitted)
// representations of the same assembly should win when both exist.
type SourcePreference string

const (
	PreferRefSeq  SourcePreference = "RefSeq"
	PreferGenBank SourcePreference = "GenBank"
	PreferEither  SourcePreference = "Either"
)

// AssemblyLevel is the completeness level of a genome assembly.
type AssemblyLevel string

const (
	LevelCompleteGenome AssemblyLevel = "Complete Genome"
	LevelChromosome     AssemblyLevel = "Chromosome"
	LevelScaffold       AssemblyLevel = "Scaffold"
	LevelContig         AssemblyLevel = "Contig"
)

// FetchTarget is one unit of harvesting work produced by the resolver.
// It is immutable once created; the engine never mutates it.
type FetchTarget struct {
	Identifier string           `json:"identifier"`
	Kind       TargetKind       `json:"kind"`
	Preference SourcePreference `json:"preference"`
}
