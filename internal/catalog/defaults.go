package catalog

var defaultCategories = []Category{
	{ID: 1, Slug: "furniture", Name: "Furniture", Description: "Custom furniture and cabinetry",
		Keywords: []string{"table", "chair", "cabinet", "shelf", "wardrobe"}},
	{ID: 2, Slug: "metalwork", Name: "Metalwork", Description: "Welding, forging, sheet metal and CNC parts",
		Keywords: []string{"steel", "aluminium", "welding", "bracket", "gate"}},
	{ID: 3, Slug: "woodwork", Name: "Woodwork", Description: "Joinery, carving and wooden decor",
		Keywords: []string{"oak", "carving", "joinery", "plywood"}},
	{ID: 4, Slug: "textiles", Name: "Textiles & Apparel", Description: "Tailoring, embroidery, uniforms, upholstery",
		Keywords: []string{"sewing", "embroidery", "fabric", "uniform", "t-shirt"}},
	{ID: 5, Slug: "printing", Name: "Printing & Packaging", Description: "Offset and digital print, labels, boxes",
		Keywords: []string{"print", "label", "packaging", "box", "banner"}},
	{ID: 6, Slug: "3d-printing", Name: "3D Printing & Prototyping", Description: "FDM/SLA prints and rapid prototypes",
		Keywords: []string{"3d", "prototype", "resin", "filament"}},
	{ID: 7, Slug: "electronics", Name: "Electronics", Description: "PCB assembly, wiring harnesses, custom devices",
		Keywords: []string{"pcb", "circuit", "sensor", "arduino", "led"}},
	{ID: 8, Slug: "jewelry", Name: "Jewelry & Accessories", Description: "Rings, pendants, engraving",
		Keywords: []string{"ring", "silver", "gold", "engraving"}},
	{ID: 9, Slug: "ceramics", Name: "Ceramics & Glass", Description: "Pottery, tiles, glassware",
		Keywords: []string{"clay", "ceramic", "glass", "tile"}},
	{ID: 10, Slug: "signage", Name: "Signage", Description: "Shop signs, neon and light boxes",
		Keywords: []string{"sign", "neon", "lightbox", "letters"}},
	{ID: 11, Slug: "other", Name: "Other", Description: "Anything that does not fit a specific category"},
}

// Default встроенный справочник категорий
func Default() *Catalog {
	c, err := New(defaultCategories)
	if err != nil {
		panic(err)
	}
	return c
}
