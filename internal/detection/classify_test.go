package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dharsanguruparan/catscan/internal/model"
)

func TestIsCatLabel(t *testing.T) {
	cases := map[string]bool{
		"Cat":                   true,
		"Kitten":                true,
		"Wildcat":               true,
		"Bobcat":                true,
		"Tomcat":                true,
		"Feline":                true,
		"Tabby cat":             true,
		"Maine Coon":            true,
		"Persian":               true,
		"Siamese":               true,
		"Ragdoll":               true,
		"Cattle":                false,
		"Caterpillar":           false,
		"Vacation":              false,
		"Dog":                   false,
		"Catalog":               false,
		"Education":             false,
		"Cathedral":             false,
		"Catfish":               false,
		"Scatter plot":          false,
		"":                      false,
		"Whiskers":              false,
		"Persian carpet":        false,
		"Persian rug":           false,
		"Siamese fighting fish": false,
		"Siamese twins":         false,
		"Polecat":               false,
		"Muscat":                false,
		"Catbird":               false,
		"Catahoula leopard dog": false,
		"Bengal tiger":          false,
		"Persianism":            false,
	}
	for name, want := range cases {
		assert.Equal(t, want, IsCatLabel(name), "label %q", name)
	}
	assert.True(t, IsCatLabel("Small to medium-sized cats"))
}

func TestClassifyWithCat(t *testing.T) {
	res := Classify([]model.Label{
		{Name: "Cat", Confidence: 95.5},
		{Name: "Animal", Confidence: 99.0},
		{Name: "Kitten", Confidence: 80.25},
	})
	assert.True(t, res.CatsFound)
	assert.Equal(t, 2, res.CatCount)
	assert.InDelta(t, 95.5, res.HighestConfidence, 0.0001)
	assert.Len(t, res.Labels, 3)
	assert.Equal(t, "Cat", res.CatLabels[0].Name)
	assert.Equal(t, "Kitten", res.CatLabels[1].Name)
}

func TestClassifyWithoutCat(t *testing.T) {
	res := Classify([]model.Label{{Name: "Dog", Confidence: 97}, {Name: "Cattle", Confidence: 88}})
	assert.False(t, res.CatsFound)
	assert.Equal(t, 0, res.CatCount)
	assert.Zero(t, res.HighestConfidence)
	assert.NotNil(t, res.CatLabels)
	assert.Empty(t, res.CatLabels)
}

func TestClassifyEmpty(t *testing.T) {
	res := Classify(nil)
	assert.False(t, res.CatsFound)
	assert.NotNil(t, res.Labels)
	assert.Empty(t, res.Labels)
}
