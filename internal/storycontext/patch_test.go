package storycontext

import (
	"strings"
	"testing"

	"github.com/starford/storyloom/internal/models"
)

const sampleDoc = `## Setting

A coastal town in 1954.

## Themes

Loyalty versus ambition.
`

func TestApply_AddIntoExistingSection(t *testing.T) {
	got := Apply(sampleDoc, []models.StoryContextChange{
		{Operation: models.ContextAdd, Section: "Setting", Content: "Fog rolls in every evening."},
	})
	want := "## Setting\n\nA coastal town in 1954.\n\nFog rolls in every evening.\n\n## Themes\n\nLoyalty versus ambition."
	if got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestApply_AddIntoLastSection(t *testing.T) {
	got := Apply(sampleDoc, []models.StoryContextChange{
		{Operation: models.ContextAdd, Section: "Themes", Content: "Grief."},
	})
	if !strings.HasSuffix(got, "Loyalty versus ambition.\n\nGrief.") {
		t.Errorf("got %q", got)
	}
}

func TestApply_AddDirectlyAfterEmptyHeader(t *testing.T) {
	doc := "## Setting\n## Rules\n\nNo magic."
	got := Apply(doc, []models.StoryContextChange{
		{Operation: models.ContextAdd, Section: "Setting", Content: "A desert."},
	})
	want := "## Setting\n\nA desert.\n\n## Rules\n\nNo magic."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply_AddMissingSectionAppends(t *testing.T) {
	got := Apply(sampleDoc, []models.StoryContextChange{
		{Operation: models.ContextAdd, Section: "Rules", Content: "Nobody leaves the island."},
	})
	if !strings.HasSuffix(got, "## Rules\n\nNobody leaves the island.") {
		t.Errorf("got %q", got)
	}
}

func TestApply_SectionMatchIsCaseSensitive(t *testing.T) {
	got := Apply(sampleDoc, []models.StoryContextChange{
		{Operation: models.ContextAdd, Section: "setting", Content: "Lowercase."},
	})
	if !strings.HasSuffix(got, "## setting\n\nLowercase.") {
		t.Errorf("got %q", got)
	}
}

func TestApply_AddToEmptyDocument(t *testing.T) {
	got := Apply("", []models.StoryContextChange{
		{Operation: models.ContextAdd, Section: "Notes", Content: "First note."},
	})
	if got != "## Notes\n\nFirst note." {
		t.Errorf("got %q", got)
	}
}

func TestApply_ModifyWithPreviousContent(t *testing.T) {
	doc := "## Themes\n\nLoyalty (and) ambition. Loyalty (and) ambition."
	got := Apply(doc, []models.StoryContextChange{
		{Operation: models.ContextModify, Section: "Themes", PreviousContent: "Loyalty (and) ambition.", Content: "Trust."},
	})
	if got != "## Themes\n\nTrust. Trust." {
		t.Errorf("got %q", got)
	}
}

func TestApply_ModifyWithoutPreviousContentInserts(t *testing.T) {
	got := Apply(sampleDoc, []models.StoryContextChange{
		{Operation: models.ContextModify, Section: "Setting", Content: "Late autumn."},
	})
	if !strings.Contains(got, "A coastal town in 1954.\n\nLate autumn.\n\n## Themes") {
		t.Errorf("got %q", got)
	}
}

func TestApply_Delete(t *testing.T) {
	doc := "## Setting\n\nA coastal town.\n\nFog [daily].\n\n\n\n## Themes\n\nLoyalty."
	got := Apply(doc, []models.StoryContextChange{
		{Operation: models.ContextDelete, Section: "Setting", Content: "Fog [daily]."},
	})
	want := "## Setting\n\nA coastal town.\n\n## Themes\n\nLoyalty."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply_DeleteEmptyContentIsNoop(t *testing.T) {
	got := Apply(sampleDoc, []models.StoryContextChange{
		{Operation: models.ContextDelete, Content: "  "},
	})
	if got != strings.TrimSpace(sampleDoc) {
		t.Errorf("got %q", got)
	}
}

func TestApply_ChangesInOrder(t *testing.T) {
	got := Apply("", []models.StoryContextChange{
		{Operation: models.ContextAdd, Section: "Notes", Content: "draft one"},
		{Operation: models.ContextModify, PreviousContent: "draft one", Content: "draft two"},
		{Operation: models.ContextAdd, Section: "Notes", Content: "extra"},
		{Operation: models.ContextDelete, Content: "extra"},
	})
	if got != "## Notes\n\ndraft two" {
		t.Errorf("got %q", got)
	}
}

func TestSections(t *testing.T) {
	secs := Sections("Preamble.\n" + sampleDoc)
	if len(secs) != 3 {
		t.Fatalf("sections = %+v", secs)
	}
	if secs[0].Name != "" || secs[0].Body != "Preamble." {
		t.Errorf("preamble = %+v", secs[0])
	}
	if secs[1].Name != "Setting" || secs[1].Body != "A coastal town in 1954." {
		t.Errorf("setting = %+v", secs[1])
	}
	if secs[2].Name != "Themes" {
		t.Errorf("themes = %+v", secs[2])
	}
}
