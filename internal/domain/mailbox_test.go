package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFit(t *testing.T) {
	locker := Dimensions{Width: 12, Height: 4, Depth: 4, Unit: UnitInch}

	t.Run("英寸信箱换算后可放入", func(t *testing.T) {
		result, err := CheckFit(Dimensions{Width: 30, Height: 10, Depth: 10, Unit: UnitCM}, locker)
		require.NoError(t, err)
		assert.True(t, result.Fits)
		assert.Equal(t, Dimensions{Width: 30.48, Height: 10.16, Depth: 10.16, Unit: UnitCM}, result.NormalizedLocker)
		assert.Equal(t, Dimensions{Width: 30, Height: 10, Depth: 10, Unit: UnitCM}, result.NormalizedParcel)
	})

	t.Run("宽度超出一厘米无法放入", func(t *testing.T) {
		result, err := CheckFit(Dimensions{Width: 31, Height: 10, Depth: 10, Unit: UnitCM}, locker)
		require.NoError(t, err)
		assert.False(t, result.Fits)
	})

	t.Run("尺寸相等视为可放入", func(t *testing.T) {
		result, err := CheckFit(Dimensions{Width: 10, Height: 10, Depth: 10, Unit: UnitInch},
			Dimensions{Width: 25.4, Height: 25.4, Depth: 25.4, Unit: UnitCM})
		require.NoError(t, err)
		assert.True(t, result.Fits)
	})

	t.Run("不足四位小数的超出仍无法放入", func(t *testing.T) {
		result, err := CheckFit(Dimensions{Width: 30.00004, Height: 10, Depth: 10, Unit: UnitCM},
			Dimensions{Width: 30, Height: 10, Depth: 10, Unit: UnitCM})
		require.NoError(t, err)
		assert.False(t, result.Fits)
		assert.Equal(t, 30.0, result.NormalizedParcel.Width, "返回值仍按四位小数取舍")
	})

	t.Run("不尝试旋转", func(t *testing.T) {
		result, err := CheckFit(Dimensions{Width: 10, Height: 30, Depth: 10, Unit: UnitCM},
			Dimensions{Width: 30, Height: 10, Depth: 10, Unit: UnitCM})
		require.NoError(t, err)
		assert.False(t, result.Fits)
	})

	t.Run("非正尺寸返回校验错误", func(t *testing.T) {
		_, err := CheckFit(Dimensions{Width: 0, Height: 10, Depth: 10, Unit: UnitCM}, locker)
		assert.True(t, errors.Is(err, ErrValidation))

		_, err = CheckFit(Dimensions{Width: 1, Height: 1, Depth: 1, Unit: UnitCM},
			Dimensions{Width: 1, Height: -1, Depth: 1, Unit: UnitCM})
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("未知单位返回校验错误", func(t *testing.T) {
		_, err := CheckFit(Dimensions{Width: 1, Height: 1, Depth: 1, Unit: "MM"}, locker)
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestNormalizeBoxNumber(t *testing.T) {
	n, err := NormalizeBoxNumber("  A-12 ")
	require.NoError(t, err)
	assert.Equal(t, "A-12", n)

	_, err = NormalizeBoxNumber("   ")
	assert.True(t, errors.Is(err, ErrValidation))
}
