// Package workbook はアーカイブに同梱されたExcelブックの読み取りを提供します。
package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// SheetNames はブック内のシート名をブック上の並び順で返します。
func SheetNames(path string) (_ []string, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close workbook: %w", closeErr)
		}
	}()

	return f.GetSheetList(), nil
}
