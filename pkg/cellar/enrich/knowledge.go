package enrich

import (
	"strings"

	"github.com/cognicore/cellar/pkg/cellar/store"
)

// SourceKnowledgeBase tags profiles built from archetypes.
const SourceKnowledgeBase = "Knowledge Base"

// Archetype is a varietal or appellation profile. It matches a wine when
// any keyword appears as whole words in the wine's descriptive text.
type Archetype struct {
	Name     string        `yaml:"name"`
	Keywords []string      `yaml:"keywords"`
	WineType string        `yaml:"wine_type"`
	Style    string        `yaml:"style"`
	Region   string        `yaml:"region"`
	Profile  store.Profile `yaml:"profile"`
}

// KnowledgeBase looks up archetypes in declaration order; put specific
// appellations before broad varietals.
type KnowledgeBase struct {
	archetypes []Archetype
}

// NewKnowledgeBase creates a knowledge base from archetypes. Keywords are
// folded once here.
func NewKnowledgeBase(archetypes []Archetype) *KnowledgeBase {
	kb := &KnowledgeBase{}
	for _, a := range archetypes {
		folded := make([]string, 0, len(a.Keywords))
		for _, k := range a.Keywords {
			if k = strings.Join(strings.Fields(store.Fold(k)), " "); k != "" {
				folded = append(folded, k)
			}
		}
		a.Keywords = folded
		kb.archetypes = append(kb.archetypes, a)
	}
	return kb
}

// Len returns the number of archetypes.
func (kb *KnowledgeBase) Len() int {
	if kb == nil {
		return 0
	}
	return len(kb.archetypes)
}

// Lookup returns the first archetype matching w.
func (kb *KnowledgeBase) Lookup(w store.Wine) (Archetype, bool) {
	if kb == nil {
		return Archetype{}, false
	}
	text := " " + strings.Join(strings.FieldsFunc(store.BuildSearchText(w), isWordSeparator), " ") + " "
	for _, a := range kb.archetypes {
		for _, k := range a.Keywords {
			k = strings.Join(strings.FieldsFunc(k, isWordSeparator), " ")
			if k != "" && strings.Contains(text, " "+k+" ") {
				return a, true
			}
		}
	}
	return Archetype{}, false
}

func isWordSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '-', ',', '.', '\'', '(', ')', '/':
		return true
	}
	return false
}

// DefaultArchetypes is the built-in knowledge base.
func DefaultArchetypes() []Archetype {
	return []Archetype{
		{
			Name:     "Nebbiolo",
			Keywords: []string{"nebbiolo", "barolo", "barbaresco", "gattinara", "ghemme", "langhe nebbiolo"},
			WineType: "red",
			Style:    "Full-bodied, structured red",
			Region:   "Piedmont",
			Profile: store.Profile{
				TastingNotes:     "Pale garnet with an orange rim; a firm, savory palate of sour cherry, dried rose and tar carried by high acidity and grippy tannins.",
				FlavorNotes:      "Sour cherry, cranberry, dried roses, tar, licorice, leather and truffle with age.",
				AromaNotes:       "Perfumed nose of rose petals, violets, red cherry, tar and dried herbs, turning to forest floor and truffle with bottle age.",
				BodyDescription:  "Full body despite the pale color, with a long, tense frame.",
				Texture:          "Dry and grippy, tannins that coat the palate.",
				Balance:          "Tannin and acidity dominate in youth and integrate over a decade.",
				TanninLevel:      "High",
				Acidity:          "High",
				FinishLength:     "Long",
				FoodPairing:      "Braised beef, brasato al Barolo, white truffle risotto, aged cheeses.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "10-30 years",
				BlendDescription: "100% Nebbiolo.",
				WhatMakesSpecial: "Nebbiolo from the Langhe hills is one of the most age-worthy grapes in the world, pairing a pale, delicate color with some of the highest tannin and acidity of any red wine.",
			},
		},
		{
			Name:     "Sangiovese",
			Keywords: []string{"sangiovese", "chianti", "brunello", "montalcino", "vino nobile", "montepulciano", "morellino"},
			WineType: "red",
			Style:    "Medium to full-bodied, savory red",
			Region:   "Tuscany",
			Profile: store.Profile{
				TastingNotes:     "Ruby red with a savory, high-acid palate of red cherry, plum and dried herbs framed by firm, fine tannins.",
				FlavorNotes:      "Red cherry, plum, tomato leaf, oregano, balsamic and leather.",
				AromaNotes:       "Sour cherry, violet, dried herbs and earthy notes with hints of oak spice.",
				BodyDescription:  "Medium to full body with a lean, vibrant core.",
				Texture:          "Fine-grained and dusty.",
				Balance:          "Bright acidity keeps the fruit fresh and lifts the finish.",
				TanninLevel:      "Medium-high",
				Acidity:          "High",
				FinishLength:     "Medium-long",
				FoodPairing:      "Tomato-based pasta, bistecca alla fiorentina, pecorino.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "5-20 years",
				BlendDescription: "Sangiovese, sometimes with Canaiolo, Colorino or Bordeaux varieties.",
				WhatMakesSpecial: "Sangiovese is the backbone of Tuscany, expressing its hillside sites through bright acidity and savory, food-friendly fruit.",
			},
		},
		{
			Name:     "Left Bank Bordeaux",
			Keywords: []string{"cabernet sauvignon", "pauillac", "margaux", "saint julien", "st julien", "saint estephe", "medoc", "haut medoc", "pessac leognan"},
			WineType: "red",
			Style:    "Full-bodied, structured red blend",
			Region:   "Bordeaux",
			Profile: store.Profile{
				TastingNotes:     "Deep ruby with a structured palate of blackcurrant, cedar and graphite, firm tannins and a long, polished finish.",
				FlavorNotes:      "Blackcurrant, black cherry, cedar, graphite, tobacco and mocha from oak.",
				AromaNotes:       "Cassis, pencil shavings, violets, cigar box and vanilla.",
				BodyDescription:  "Full body with a firm, linear structure.",
				Texture:          "Firm and polished.",
				Balance:          "Ripe fruit balanced by tannin and fresh acidity.",
				TanninLevel:      "High",
				Acidity:          "Medium-high",
				FinishLength:     "Long",
				FoodPairing:      "Roast lamb, ribeye steak, hard cheeses.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "10-40 years",
				BlendDescription: "Cabernet Sauvignon led, with Merlot, Cabernet Franc and Petit Verdot.",
				WhatMakesSpecial: "The gravel soils of the Médoc give Cabernet Sauvignon a structure and longevity that set the benchmark for blended reds worldwide.",
			},
		},
		{
			Name:     "Right Bank Bordeaux",
			Keywords: []string{"merlot", "pomerol", "saint emilion", "st emilion"},
			WineType: "red",
			Style:    "Plush, medium to full-bodied red",
			Region:   "Bordeaux",
			Profile: store.Profile{
				TastingNotes:     "Plush and round with plum, black cherry and cocoa, supple tannins and a velvety finish.",
				FlavorNotes:      "Plum, black cherry, fig, cocoa, truffle and sweet spice.",
				AromaNotes:       "Ripe plum, violets, chocolate and earthy truffle.",
				BodyDescription:  "Medium to full body with generous mid-palate weight.",
				TanninLevel:      "Medium",
				Acidity:          "Medium",
				FinishLength:     "Medium-long",
				FoodPairing:      "Duck, mushroom dishes, roast pork.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "8-25 years",
				BlendDescription: "Merlot led, with Cabernet Franc.",
				WhatMakesSpecial: "Clay and limestone soils give right bank Merlot its signature plush texture and velvety depth.",
			},
		},
		{
			Name:     "Pinot Noir",
			Keywords: []string{"pinot noir", "burgundy", "bourgogne", "gevrey chambertin", "vosne romanee", "nuits saint georges", "chambolle musigny", "pommard", "volnay"},
			WineType: "red",
			Style:    "Light to medium-bodied, elegant red",
			Region:   "Burgundy",
			Profile: store.Profile{
				TastingNotes:     "Translucent ruby with silky red fruit, earthy undertones and bright acidity on a light, elegant frame.",
				FlavorNotes:      "Red cherry, raspberry, cranberry, mushroom and forest floor.",
				AromaNotes:       "Red berries, rose, sous-bois and subtle spice.",
				BodyDescription:  "Light to medium body with a silky, delicate structure.",
				TanninLevel:      "Low-medium",
				Acidity:          "Medium-high",
				FinishLength:     "Medium-long",
				FoodPairing:      "Roast chicken, duck, salmon, mushroom dishes.",
				ServingTemp:      "14-16°C",
				AgingPotential:   "5-20 years",
				BlendDescription: "100% Pinot Noir.",
				WhatMakesSpecial: "Pinot Noir is famously transparent to its site, which makes Burgundy's patchwork of vineyards one of the most studied landscapes in wine.",
			},
		},
		{
			Name:     "Chardonnay",
			Keywords: []string{"chardonnay", "chablis", "meursault", "puligny montrachet", "chassagne montrachet", "pouilly fuisse", "corton charlemagne"},
			WineType: "white",
			Style:    "Medium to full-bodied white",
			Region:   "Burgundy",
			Profile: store.Profile{
				TastingNotes:     "Pale gold with citrus and orchard fruit, a mineral core and, when oaked, a creamy, toasty finish.",
				FlavorNotes:      "Lemon, green apple, pear, hazelnut and brioche.",
				AromaNotes:       "Citrus, white flowers, wet stone and toasted oak.",
				BodyDescription:  "Medium to full body depending on oak and malolactic fermentation.",
				TanninLevel:      "None",
				Acidity:          "Medium-high",
				FinishLength:     "Medium-long",
				FoodPairing:      "Lobster, roast chicken, creamy sauces, oysters with Chablis.",
				ServingTemp:      "10-13°C",
				AgingPotential:   "3-15 years",
				BlendDescription: "100% Chardonnay.",
				WhatMakesSpecial: "Chardonnay mirrors its soil and winemaking, from steely Chablis to rich Meursault.",
			},
		},
		{
			Name:     "Sauvignon Blanc",
			Keywords: []string{"sauvignon blanc", "sancerre", "pouilly fume", "marlborough"},
			WineType: "white",
			Style:    "Light to medium-bodied, crisp white",
			Profile: store.Profile{
				TastingNotes:     "Pale straw with zesty citrus, green herbs and a crisp, mouthwatering finish.",
				FlavorNotes:      "Grapefruit, lime, gooseberry, passion fruit and cut grass.",
				AromaNotes:       "Citrus zest, green pepper, elderflower and flint.",
				BodyDescription:  "Light to medium body.",
				TanninLevel:      "None",
				Acidity:          "High",
				FinishLength:     "Medium",
				FoodPairing:      "Goat cheese, shellfish, green salads.",
				ServingTemp:      "8-10°C",
				AgingPotential:   "1-5 years",
				BlendDescription: "100% Sauvignon Blanc.",
				WhatMakesSpecial: "Sauvignon Blanc is prized for its aromatic intensity and racy freshness.",
			},
		},
		{
			Name:     "Riesling",
			Keywords: []string{"riesling", "mosel", "kabinett", "spatlese", "auslese", "rheingau"},
			WineType: "white",
			Style:    "Light-bodied, aromatic white",
			Profile: store.Profile{
				TastingNotes:     "Pale lemon with vivid stone fruit, citrus and a slate-like minerality; ranges from bone dry to lusciously sweet.",
				FlavorNotes:      "Lime, green apple, peach, apricot and honey.",
				AromaNotes:       "Citrus blossom, peach, wet slate and petrol with age.",
				BodyDescription:  "Light body with piercing acidity.",
				TanninLevel:      "None",
				Acidity:          "High",
				FinishLength:     "Long",
				FoodPairing:      "Spicy Asian dishes, pork, smoked fish.",
				ServingTemp:      "7-10°C",
				AgingPotential:   "5-30 years",
				BlendDescription: "100% Riesling.",
				WhatMakesSpecial: "High acidity lets Riesling age for decades across every sweetness level.",
			},
		},
		{
			Name:     "Syrah",
			Keywords: []string{"syrah", "shiraz", "hermitage", "cote rotie", "cornas", "crozes hermitage", "saint joseph"},
			WineType: "red",
			Style:    "Full-bodied, spicy red",
			Profile: store.Profile{
				TastingNotes:     "Inky purple with dark berry fruit, black pepper, smoked meat and firm, ripe tannins.",
				FlavorNotes:      "Blackberry, blueberry, black olive, pepper and smoked meat.",
				AromaNotes:       "Violets, black pepper, bacon fat and dark fruit.",
				BodyDescription:  "Full body with a dense, savory core.",
				TanninLevel:      "Medium-high",
				Acidity:          "Medium",
				FinishLength:     "Long",
				FoodPairing:      "Grilled lamb, barbecue, game.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "5-25 years",
				BlendDescription: "Syrah, sometimes co-fermented with Viognier.",
				WhatMakesSpecial: "Northern Rhône Syrah balances savory pepper and floral lift in a way few reds can match.",
			},
		},
		{
			Name:     "Tempranillo",
			Keywords: []string{"tempranillo", "rioja", "ribera del duero", "toro"},
			WineType: "red",
			Style:    "Medium to full-bodied red",
			Region:   "Spain",
			Profile: store.Profile{
				TastingNotes:     "Garnet with red and dried fruit, vanilla and dill from American oak, and a savory, leathery finish with age.",
				FlavorNotes:      "Cherry, plum, dried fig, vanilla, tobacco and leather.",
				AromaNotes:       "Red fruit, coconut, dill, clove and leather.",
				BodyDescription:  "Medium to full body.",
				TanninLevel:      "Medium",
				Acidity:          "Medium",
				FinishLength:     "Medium-long",
				FoodPairing:      "Roast lamb, chorizo, Manchego.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "5-25 years",
				BlendDescription: "Tempranillo, often with Garnacha, Graciano or Mazuelo.",
				WhatMakesSpecial: "Long oak and bottle ageing before release gives Gran Reserva wines a mature, savory character.",
			},
		},
		{
			Name:     "Grenache",
			Keywords: []string{"grenache", "garnacha", "chateauneuf du pape", "priorat", "gigondas"},
			WineType: "red",
			Style:    "Full-bodied, warm red",
			Profile: store.Profile{
				TastingNotes:     "Ripe raspberry and strawberry fruit with garrigue herbs, warm alcohol and soft tannins.",
				FlavorNotes:      "Raspberry, strawberry jam, herbs de Provence, licorice.",
				AromaNotes:       "Red fruit, lavender, thyme and white pepper.",
				BodyDescription:  "Full body with generous alcohol.",
				TanninLevel:      "Medium",
				Acidity:          "Medium-low",
				FinishLength:     "Medium-long",
				FoodPairing:      "Lamb stews, cassoulet, roasted vegetables.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "5-20 years",
				BlendDescription: "Grenache led, often with Syrah and Mourvèdre.",
				WhatMakesSpecial: "Old-vine Grenache on stony soils gives concentrated, sun-drenched wines.",
			},
		},
		{
			Name:     "Champagne",
			Keywords: []string{"champagne", "blanc de blancs", "blanc de noirs", "cremant", "brut", "franciacorta", "cava"},
			WineType: "sparkling",
			Style:    "Traditional method sparkling",
			Profile: store.Profile{
				TastingNotes:     "Fine persistent bubbles, citrus and green apple with brioche and toasted notes from lees ageing.",
				FlavorNotes:      "Lemon, green apple, pear, almond and toast.",
				AromaNotes:       "Brioche, citrus, white flowers and chalk.",
				BodyDescription:  "Light to medium body with a creamy mousse.",
				TanninLevel:      "None",
				Acidity:          "High",
				FinishLength:     "Medium-long",
				FoodPairing:      "Oysters, caviar, fried food, aged Comté.",
				ServingTemp:      "6-9°C",
				AgingPotential:   "3-20 years",
				BlendDescription: "Chardonnay, Pinot Noir and Pinot Meunier.",
				WhatMakesSpecial: "Secondary fermentation in bottle and long ageing on lees create Champagne's fine mousse and layered, toasty complexity.",
			},
		},
		{
			Name:     "Malbec",
			Keywords: []string{"malbec", "cahors", "mendoza"},
			WineType: "red",
			Style:    "Full-bodied, fruit-forward red",
			Profile: store.Profile{
				TastingNotes:     "Deep purple with plush plum and blackberry fruit, cocoa and a smooth finish.",
				FlavorNotes:      "Plum, blackberry, black cherry, cocoa and sweet tobacco.",
				AromaNotes:       "Violet, dark fruit and vanilla.",
				BodyDescription:  "Full body with soft, ripe tannins.",
				TanninLevel:      "Medium",
				Acidity:          "Medium",
				FinishLength:     "Medium",
				FoodPairing:      "Grilled steak, empanadas, chimichurri.",
				ServingTemp:      "16-18°C",
				AgingPotential:   "3-10 years",
				BlendDescription: "100% Malbec.",
				WhatMakesSpecial: "High-altitude vineyards in Mendoza give Malbec intense color with fresh acidity.",
			},
		},
	}
}
