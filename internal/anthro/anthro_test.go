package anthro

import (
	"testing"

	"github.com/healthpilot/healthpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBMRMale(t *testing.T) {
	bmr, err := ComputeBMR(models.GenderMale, 80, 180, 30)
	require.NoError(t, err)
	assert.Equal(t, 1742.5, bmr)
}

func TestComputeBMRFemale(t *testing.T) {
	bmr, err := ComputeBMR(models.GenderFemale, 60, 165, 25)
	require.NoError(t, err)
	// 10*60 + 6.25*165 - 5*25 - 161
	assert.Equal(t, 1345.25, bmr)
}

func TestComputeTDEE(t *testing.T) {
	tdee, err := ComputeTDEE(1742.5, models.ActivityModerate)
	require.NoError(t, err)
	assert.Equal(t, 2700.875, tdee)
}

func TestComputeIsDeterministic(t *testing.T) {
	first, err := ComputeBMR(models.GenderMale, 80, 180, 30)
	require.NoError(t, err)
	second, err := ComputeBMR(models.GenderMale, 80, 180, 30)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIncompleteProfileNeverZero(t *testing.T) {
	_, err := ComputeBMR("", 80, 180, 30)
	assert.ErrorIs(t, err, ErrIncompleteProfile)

	_, err = ComputeBMR(models.GenderMale, 0, 180, 30)
	assert.ErrorIs(t, err, ErrIncompleteProfile)

	_, err = ComputeTDEE(1742.5, "couch")
	assert.ErrorIs(t, err, ErrIncompleteProfile)
}

func TestFromProfile(t *testing.T) {
	gender := models.GenderMale
	height := 180.0
	weight := 80.0
	age := 30
	activity := models.ActivityModerate

	user := &models.User{
		Gender:        &gender,
		HeightCm:      &height,
		WeightKg:      &weight,
		Age:           &age,
		ActivityLevel: &activity,
	}

	a, err := FromProfile(user)
	require.NoError(t, err)
	assert.Equal(t, 1742.5, a.BMR)
	assert.Equal(t, 2700.875, a.TDEE)
}

func TestFromProfileMissingField(t *testing.T) {
	gender := models.GenderMale
	height := 180.0
	age := 30

	user := &models.User{
		Gender:   &gender,
		HeightCm: &height,
		Age:      &age,
		// weight missing
	}

	_, err := FromProfile(user)
	assert.ErrorIs(t, err, ErrIncompleteProfile)

	_, err = FromProfile(nil)
	assert.ErrorIs(t, err, ErrIncompleteProfile)
}

func TestTargetsFor(t *testing.T) {
	targets := TargetsFor(2000)
	assert.Equal(t, 2000.0, targets.CaloriesKcal)
	assert.Equal(t, 150.0, targets.ProteinG)  // 2000*0.30/4
	assert.Equal(t, 225.0, targets.CarbsG)    // 2000*0.45/4
	assert.InDelta(t, 55.56, targets.FatG, 0.01)
	assert.Equal(t, VegetableTargetG, targets.VegetableG)
}
